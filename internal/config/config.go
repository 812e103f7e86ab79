// Package config loads the botfleet configuration from YAML and BOTFLEET_* environment variables.
package config

import (
	"time"

	apperrors "github.com/edgard/botfleet/internal/errors"
)

// Config is the complete application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Bots      []BotConfig     `mapstructure:"bots" validate:"dive"`
}

// LoggerConfig controls log level and format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig points at the sqlite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig holds settings shared by every bot.
type TelegramConfig struct {
	// OwnerIDs are OWNER on every bot regardless of stored roles.
	OwnerIDs []int64 `mapstructure:"owner_ids"`
}

// WebhookConfig configures the HTTP server receiving pushed updates.
// The server only runs when ListenAddr is set.
type WebhookConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	PublicBaseURL   string        `mapstructure:"public_base_url" validate:"omitempty,url"`
	SecretToken     string        `mapstructure:"secret_token" validate:"omitempty,max=256"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LifecycleConfig tunes bot start, stop and crash detection.
type LifecycleConfig struct {
	RestartSettleDelay   time.Duration `mapstructure:"restart_settle_delay" validate:"gte=0"`
	CrashMonitorInterval time.Duration `mapstructure:"crash_monitor_interval" validate:"gt=0"`
	CloseTimeout         time.Duration `mapstructure:"close_timeout" validate:"gt=0"`
	OperationTimeout     time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
}

// PluginsConfig holds execution limits for plugins without a stored configuration.
type PluginsConfig struct {
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries" validate:"gte=0,lte=10"`
}

// GeminiConfig configures the text generator behind AI commands.
// AI commands are unavailable without an API key.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	ModelName         string        `mapstructure:"model_name" validate:"required"`
	Temperature       float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	SystemInstruction string        `mapstructure:"system_instruction"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// SchedulerConfig lists the system tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig schedules one system task with either a cron expression or a fixed interval.
// Schedule wins when both are set.
type TaskConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// MessagesConfig holds the user-facing texts.
type MessagesConfig struct {
	Welcome         string `mapstructure:"welcome" validate:"required"`
	HelpHeader      string `mapstructure:"help_header" validate:"required"`
	UnknownCommand  string `mapstructure:"unknown_command" validate:"required"`
	CommandDisabled string `mapstructure:"command_disabled" validate:"required"`
	Forbidden       string `mapstructure:"forbidden" validate:"required"`
	GeneralError    string `mapstructure:"general_error" validate:"required"`
	PluginError     string `mapstructure:"plugin_error" validate:"required"`
	PluginTimeout   string `mapstructure:"plugin_timeout" validate:"required"`
	AIError         string `mapstructure:"ai_error" validate:"required"`
}

// ForKind returns the message shown to users for an error kind.
func (m MessagesConfig) ForKind(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindCommandNotFound:
		return m.UnknownCommand
	case apperrors.KindCommandDisabled:
		return m.CommandDisabled
	case apperrors.KindForbidden:
		return m.Forbidden
	case apperrors.KindPluginTimeout:
		return m.PluginTimeout
	case apperrors.KindPluginNotLoaded, apperrors.KindPluginExecutionError:
		return m.PluginError
	default:
		return m.GeneralError
	}
}

// BotConfig seeds one bot identity into the store at startup.
type BotConfig struct {
	ID         int64  `mapstructure:"id" validate:"required,gt=0"`
	Name       string `mapstructure:"name"`
	Token      string `mapstructure:"token" validate:"required"`
	Mode       string `mapstructure:"mode" validate:"omitempty,oneof=PUSH PULL"`
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
	// AutoStart starts the bot at startup when reconciliation did not already start it.
	AutoStart bool `mapstructure:"auto_start"`
}
