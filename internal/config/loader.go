package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. BOTFLEET_DATABASE_PATH.
	EnvPrefix = "BOTFLEET"

	DefaultConfigPath = "config.yaml"

	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultDatabasePath = "botfleet.db"

	DefaultWebhookReadTimeout     = 10 * time.Second
	DefaultWebhookShutdownTimeout = 10 * time.Second

	DefaultRestartSettleDelay   = 3 * time.Second
	DefaultCrashMonitorInterval = 5 * time.Second
	DefaultCloseTimeout         = 10 * time.Second
	DefaultOperationTimeout     = 30 * time.Second

	DefaultPluginTimeout    = 5 * time.Second
	DefaultPluginMaxRetries = 0

	DefaultGeminiModelName   = "gemini-2.0-flash"
	DefaultGeminiTemperature = 1.0
	DefaultGeminiMaxRetries  = 3
	DefaultGeminiRetryDelay  = 2 * time.Second
	DefaultGeminiTimeout     = 60 * time.Second

	DefaultSQLMaintenanceSchedule = "0 4 * * *"

	DefaultMsgWelcome         = "Hello! Send /help to see what I can do."
	DefaultMsgHelpHeader      = "Available commands:"
	DefaultMsgUnknownCommand  = "Unknown command. Send /help for the list of commands."
	DefaultMsgCommandDisabled = "This command is disabled."
	DefaultMsgForbidden       = "You are not allowed to use this command."
	DefaultMsgGeneralError    = "Something went wrong. Please try again later."
	DefaultMsgPluginError     = "The plugin failed to run."
	DefaultMsgPluginTimeout   = "The plugin took too long to answer."
	DefaultMsgAIError         = "I couldn't generate an answer right now."
)

// Task names understood by the scheduler.
const (
	TaskSQLMaintenance = "sql_maintenance"
	TaskSessionMonitor = "session_monitor"
)

// LoadConfig reads path (optional when missing), applies BOTFLEET_* overrides and defaults,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	if monitor, ok := cfg.Scheduler.Tasks[TaskSessionMonitor]; ok && monitor.Schedule == "" && monitor.Interval == 0 {
		monitor.Interval = cfg.Lifecycle.CrashMonitorInterval
		cfg.Scheduler.Tasks[TaskSessionMonitor] = monitor
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	seen := make(map[int64]struct{}, len(cfg.Bots))
	for _, b := range cfg.Bots {
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("config validation failed: duplicate bot id %d", b.ID)
		}
		seen[b.ID] = struct{}{}
		if b.Mode == "PUSH" && b.WebhookURL == "" && cfg.Webhook.PublicBaseURL == "" {
			return fmt.Errorf("config validation failed: bot %d uses PUSH but no webhook_url or webhook.public_base_url is set", b.ID)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", DefaultLogJSON)

	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("telegram.owner_ids", []int64{})

	v.SetDefault("webhook.listen_addr", "")
	v.SetDefault("webhook.public_base_url", "")
	v.SetDefault("webhook.secret_token", "")
	v.SetDefault("webhook.read_timeout", DefaultWebhookReadTimeout)
	v.SetDefault("webhook.shutdown_timeout", DefaultWebhookShutdownTimeout)

	v.SetDefault("lifecycle.restart_settle_delay", DefaultRestartSettleDelay)
	v.SetDefault("lifecycle.crash_monitor_interval", DefaultCrashMonitorInterval)
	v.SetDefault("lifecycle.close_timeout", DefaultCloseTimeout)
	v.SetDefault("lifecycle.operation_timeout", DefaultOperationTimeout)

	v.SetDefault("plugins.default_timeout", DefaultPluginTimeout)
	v.SetDefault("plugins.default_max_retries", DefaultPluginMaxRetries)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", DefaultGeminiModelName)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.system_instruction", "")
	v.SetDefault("gemini.max_retries", DefaultGeminiMaxRetries)
	v.SetDefault("gemini.retry_delay", DefaultGeminiRetryDelay)
	v.SetDefault("gemini.timeout", DefaultGeminiTimeout)

	v.SetDefault("scheduler.tasks", map[string]any{
		TaskSQLMaintenance: map[string]any{
			"enabled":  true,
			"schedule": DefaultSQLMaintenanceSchedule,
		},
		TaskSessionMonitor: map[string]any{
			"enabled": true,
		},
	})

	v.SetDefault("messages.welcome", DefaultMsgWelcome)
	v.SetDefault("messages.help_header", DefaultMsgHelpHeader)
	v.SetDefault("messages.unknown_command", DefaultMsgUnknownCommand)
	v.SetDefault("messages.command_disabled", DefaultMsgCommandDisabled)
	v.SetDefault("messages.forbidden", DefaultMsgForbidden)
	v.SetDefault("messages.general_error", DefaultMsgGeneralError)
	v.SetDefault("messages.plugin_error", DefaultMsgPluginError)
	v.SetDefault("messages.plugin_timeout", DefaultMsgPluginTimeout)
	v.SetDefault("messages.ai_error", DefaultMsgAIError)
}
