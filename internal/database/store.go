package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// GetBot returns the bot with the given ID. Returns nil, nil if not found.
	GetBot(ctx context.Context, botID int64) (*Bot, error)
	// ListBots returns every configured bot ordered by ID.
	ListBots(ctx context.Context) ([]Bot, error)
	// ListBotsByStatus returns bots whose persisted status is one of statuses.
	ListBotsByStatus(ctx context.Context, statuses ...BotStatus) ([]Bot, error)
	// UpsertBot inserts or updates a bot identity. The persisted status is left untouched on update.
	UpsertBot(ctx context.Context, bot *Bot) error
	// SetBotStatus updates the persisted lifecycle status.
	SetBotStatus(ctx context.Context, botID int64, status BotStatus) error

	// GetRuntimeState returns the runtime state row. Returns nil, nil if not created yet.
	GetRuntimeState(ctx context.Context, botID int64) (*BotRuntimeState, error)
	// SaveRuntimeState inserts or replaces the runtime state row.
	SaveRuntimeState(ctx context.Context, state *BotRuntimeState) error
	// AppendBotEvent records one lifecycle history entry.
	AppendBotEvent(ctx context.Context, botID int64, event, detail string) error
	// ListBotEvents returns the most recent events for a bot, newest first.
	ListBotEvents(ctx context.Context, botID int64, limit int) ([]BotEvent, error)
	// PruneBotEvents deletes events of every bot created before cutoff and returns how many went.
	PruneBotEvents(ctx context.Context, cutoff time.Time) (int64, error)

	// FindCommand returns the authoritative definition for (botID, token):
	// bot-specific before global, then priority ascending. Returns nil, nil if none.
	FindCommand(ctx context.Context, botID int64, token string, enabledOnly bool) (*CommandDefinition, error)
	// ListCommands returns bot-specific and global definitions, enabled or not.
	ListCommands(ctx context.Context, botID int64) ([]CommandDefinition, error)
	// ListEnabledCommands returns the enabled definitions visible to a bot,
	// with bot-specific entries shadowing global ones.
	ListEnabledCommands(ctx context.Context, botID int64) ([]CommandDefinition, error)
	// SaveCommand inserts (ID == 0) or updates a command definition.
	SaveCommand(ctx context.Context, def *CommandDefinition) error
	// SetCommandEnabled toggles the bot-specific definition for token. A global
	// definition is shadowed by a bot-specific copy carrying the new flag.
	SetCommandEnabled(ctx context.Context, botID int64, token string, enabled bool) error
	// DeleteCommand removes the bot-specific definition for token.
	DeleteCommand(ctx context.Context, botID int64, token string) (bool, error)

	// GetPlugin returns the plugin configuration. Returns nil, nil if not found.
	GetPlugin(ctx context.Context, name string) (*PluginConfig, error)
	// ListPlugins returns every plugin configuration ordered by name.
	ListPlugins(ctx context.Context) ([]PluginConfig, error)
	// SavePlugin inserts or updates a plugin configuration.
	SavePlugin(ctx context.Context, plugin *PluginConfig) error
	// SetPluginActive toggles the active flag.
	SetPluginActive(ctx context.Context, name string, active bool) error
	// DeletePlugin removes the plugin configuration.
	DeletePlugin(ctx context.Context, name string) (bool, error)

	// GetUserRole returns the stored role. ok is false when no row exists.
	GetUserRole(ctx context.Context, botID, userID int64) (role string, ok bool, err error)
	// SetUserRole inserts or replaces a role assignment.
	SetUserRole(ctx context.Context, botID, userID int64, role string) error
	// ListUserRoles returns every role assignment for a bot.
	ListUserRoles(ctx context.Context, botID int64) ([]UserRole, error)
	// SetCommandAccess records an explicit allow or deny of a token for a user.
	SetCommandAccess(ctx context.Context, botID, userID int64, token string, allowed bool) error
	// ListCommandAccess returns the explicit rules for a user keyed by token.
	ListCommandAccess(ctx context.Context, botID, userID int64) (map[string]bool, error)

	// GetSetting returns a bot setting. ok is false when no row exists.
	GetSetting(ctx context.Context, botID int64, key string) (value string, ok bool, err error)
	// SetSetting inserts or replaces a bot setting.
	SetSetting(ctx context.Context, botID int64, key, value string) error
	// ListSettings returns every setting for a bot ordered by key.
	ListSettings(ctx context.Context, botID int64) ([]Setting, error)
	// DeleteSetting removes a bot setting.
	DeleteSetting(ctx context.Context, botID int64, key string) (bool, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

// withTx runs fn in a transaction, rolling back unless fn succeeds and commit works.
func (s *sqlxStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "op", op, "error", err)
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "op", op, "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "op", op, "error", err)
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	tx = nil
	return nil
}

// isCtxErr reports context cancellation, which callers log as a warning rather than an error.
func isCtxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
