package database

import (
	"database/sql"
	"time"
)

// ConnectionMode selects how a bot session receives updates from the platform.
type ConnectionMode string

const (
	// ModePush registers a webhook; the platform delivers updates over HTTP.
	ModePush ConnectionMode = "PUSH"
	// ModePull runs a long-polling receive loop.
	ModePull ConnectionMode = "PULL"
)

// BotStatus is the persisted lifecycle state of a bot.
type BotStatus string

const (
	StatusStopped   BotStatus = "STOPPED"
	StatusStarting  BotStatus = "STARTING"
	StatusRunning   BotStatus = "RUNNING"
	StatusStopping  BotStatus = "STOPPING"
	StatusErrored   BotStatus = "ERRORED"
	StatusSuspended BotStatus = "SUSPENDED"
)

// Bot is the per-bot identity: credentials, connection mode and push endpoint.
// Status is the only field the lifecycle orchestrator writes.
type Bot struct {
	ID         int64          `db:"id"`
	Name       string         `db:"name"`
	Token      string         `db:"token"`
	Mode       ConnectionMode `db:"mode"`
	WebhookURL string         `db:"webhook_url"`
	Status     BotStatus      `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// BotRuntimeState is written through after every lifecycle transition and read
// back during startup reconciliation.
type BotRuntimeState struct {
	BotID         int64          `db:"bot_id"`
	IsRunning     bool           `db:"is_running"`
	LastStartedAt sql.NullTime   `db:"last_started_at"`
	LastStoppedAt sql.NullTime   `db:"last_stopped_at"`
	LastError     sql.NullString `db:"last_error"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// BotEvent is one entry of a bot's lifecycle history.
type BotEvent struct {
	ID        int64     `db:"id"`
	BotID     int64     `db:"bot_id"`
	Event     string    `db:"event"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// CommandType is the capability a command definition maps to.
type CommandType string

const (
	CommandSchedule   CommandType = "SCHEDULE"
	CommandReminder   CommandType = "REMINDER"
	CommandAITask     CommandType = "AI_TASK"
	CommandAIAnswer   CommandType = "AI_ANSWER"
	CommandSummary    CommandType = "SUMMARY"
	CommandGeneration CommandType = "GENERATION"
	CommandAnalysis   CommandType = "ANALYSIS"
	CommandPlugin     CommandType = "PLUGIN"
	CommandCustom     CommandType = "CUSTOM"
)

// IsAI reports whether the type is served by the AI handler.
func (t CommandType) IsAI() bool {
	switch t {
	case CommandAITask, CommandAIAnswer, CommandSummary, CommandGeneration, CommandAnalysis:
		return true
	default:
		return false
	}
}

// TriggerKind describes what fires a command.
type TriggerKind string

const (
	TriggerCommand   TriggerKind = "COMMAND"
	TriggerText      TriggerKind = "TEXT"
	TriggerScheduled TriggerKind = "SCHEDULED"
)

// CommandDefinition is a persisted command. A NULL BotID makes it global;
// a bot-specific definition with the same token shadows the global one.
type CommandDefinition struct {
	ID               int64          `db:"id"`
	BotID            sql.NullInt64  `db:"bot_id"`
	Command          string         `db:"command"`
	Type             CommandType    `db:"type"`
	Trigger          TriggerKind    `db:"trigger_kind"`
	Priority         int            `db:"priority"`
	Enabled          bool           `db:"enabled"`
	Description      string         `db:"description"`
	ResponseTemplate string         `db:"response_template"`
	PluginName       sql.NullString `db:"plugin_name"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// IsGlobal reports whether the definition applies to every bot.
func (d *CommandDefinition) IsGlobal() bool {
	return !d.BotID.Valid
}

// PluginConfig holds the execution limits for a registered plugin.
type PluginConfig struct {
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	Active         bool      `db:"active"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	MaxRetries     int       `db:"max_retries"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// UserRole is a stored role assignment for one user of one bot.
type UserRole struct {
	BotID     int64     `db:"bot_id"`
	UserID    int64     `db:"user_id"`
	Role      string    `db:"role"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CommandAccess is an explicit allow or deny of a command token for one user.
type CommandAccess struct {
	BotID     int64     `db:"bot_id"`
	UserID    int64     `db:"user_id"`
	Command   string    `db:"command"`
	Allowed   bool      `db:"allowed"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Setting is a per-bot key/value entry managed with /admin config.
type Setting struct {
	BotID     int64     `db:"bot_id"`
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}
