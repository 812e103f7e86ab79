package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by update operations whose target row does not exist.
var ErrNotFound = errors.New("not found")

const commandColumns = `id, bot_id, command, type, trigger_kind, priority, enabled, description,
	response_template, plugin_name, created_at, updated_at`

// authoritativeOrder puts bot-specific rows before global ones, then enabled rows
// before disabled ones of the same scope, then the most urgent priority first.
const authoritativeOrder = `CASE WHEN bot_id IS NULL THEN 1 ELSE 0 END, enabled DESC, priority ASC, id ASC`

// FindCommand returns the authoritative definition for (botID, token), or nil, nil.
func (s *sqlxStore) FindCommand(ctx context.Context, botID int64, token string, enabledOnly bool) (*CommandDefinition, error) {
	query := `SELECT ` + commandColumns + ` FROM commands
		WHERE (bot_id = ? OR bot_id IS NULL) AND command = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY ` + authoritativeOrder + ` LIMIT 1`

	var def CommandDefinition
	err := s.db.GetContext(ctx, &def, query, botID, token)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil

	case isCtxErr(err):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while resolving command",
			"bot_id", botID, "command", token, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error resolving command", "bot_id", botID, "command", token, "error", err)
		return nil, fmt.Errorf("failed to find command %q for bot %d: %w", token, botID, err)
	}

	return &def, nil
}

// ListCommands returns every definition visible to the bot, enabled or not,
// grouped by token in authoritative order.
func (s *sqlxStore) ListCommands(ctx context.Context, botID int64) ([]CommandDefinition, error) {
	var defs []CommandDefinition
	err := s.db.SelectContext(ctx, &defs, `SELECT `+commandColumns+` FROM commands
		WHERE bot_id = ? OR bot_id IS NULL
		ORDER BY command ASC, `+authoritativeOrder, botID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing commands", "bot_id", botID, "error", err)
		return nil, fmt.Errorf("failed to list commands for bot %d: %w", botID, err)
	}
	return defs, nil
}

// ListEnabledCommands returns one authoritative enabled definition per token.
// A disabled bot-specific definition hides an enabled global one.
func (s *sqlxStore) ListEnabledCommands(ctx context.Context, botID int64) ([]CommandDefinition, error) {
	all, err := s.ListCommands(ctx, botID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(all))
	enabled := make([]CommandDefinition, 0, len(all))
	for _, def := range all {
		if seen[def.Command] {
			continue
		}
		seen[def.Command] = true
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	return enabled, nil
}

// SaveCommand inserts a new definition when ID is zero and updates it otherwise.
func (s *sqlxStore) SaveCommand(ctx context.Context, def *CommandDefinition) error {
	if def == nil {
		return fmt.Errorf("cannot save nil command definition")
	}
	if def.Command == "" {
		return fmt.Errorf("command definition must have a token")
	}
	if def.Type == "" {
		return fmt.Errorf("command definition %q must have a type", def.Command)
	}
	if def.Trigger == "" {
		def.Trigger = TriggerCommand
	}

	now := time.Now().UTC()
	def.UpdatedAt = now
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	if def.ID != 0 {
		_, err := s.db.NamedExecContext(ctx, `
			UPDATE commands SET
				bot_id = :bot_id, command = :command, type = :type, trigger_kind = :trigger_kind,
				priority = :priority, enabled = :enabled, description = :description,
				response_template = :response_template, plugin_name = :plugin_name, updated_at = :updated_at
			WHERE id = :id`, def)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error updating command", "command_id", def.ID, "error", err)
			return fmt.Errorf("failed to update command %d: %w", def.ID, err)
		}
		return nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO commands (bot_id, command, type, trigger_kind, priority, enabled, description,
			response_template, plugin_name, created_at, updated_at)
		VALUES (:bot_id, :command, :type, :trigger_kind, :priority, :enabled, :description,
			:response_template, :plugin_name, :created_at, :updated_at)`, def)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting command", "command", def.Command, "error", err)
		return fmt.Errorf("failed to insert command %q: %w", def.Command, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving command", "command", def.Command, "error", err)
		return nil
	}
	def.ID = id
	return nil
}

// SetCommandEnabled toggles the bot-specific definitions for token. When only a
// global definition exists, a bot-specific copy is created so other bots are unaffected.
func (s *sqlxStore) SetCommandEnabled(ctx context.Context, botID int64, token string, enabled bool) error {
	return s.withTx(ctx, "set_command_enabled", func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE commands SET enabled = ?, updated_at = ? WHERE bot_id = ? AND command = ?`,
			enabled, now, botID, token)
		if err != nil {
			return fmt.Errorf("failed to toggle command %q for bot %d: %w", token, botID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}

		var global CommandDefinition
		err = tx.GetContext(ctx, &global, `SELECT `+commandColumns+` FROM commands
			WHERE bot_id IS NULL AND command = ? ORDER BY priority ASC, id ASC LIMIT 1`, token)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("command %q for bot %d: %w", token, botID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load global command %q: %w", token, err)
		}

		override := global
		override.ID = 0
		override.BotID = sql.NullInt64{Int64: botID, Valid: true}
		override.Enabled = enabled
		override.CreatedAt = now
		override.UpdatedAt = now
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO commands (bot_id, command, type, trigger_kind, priority, enabled, description,
				response_template, plugin_name, created_at, updated_at)
			VALUES (:bot_id, :command, :type, :trigger_kind, :priority, :enabled, :description,
				:response_template, :plugin_name, :created_at, :updated_at)`, &override)
		if err != nil {
			return fmt.Errorf("failed to shadow global command %q for bot %d: %w", token, botID, err)
		}
		return nil
	})
}

// DeleteCommand removes the bot-specific definitions for token.
func (s *sqlxStore) DeleteCommand(ctx context.Context, botID int64, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE bot_id = ? AND command = ?`, botID, token)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting command", "bot_id", botID, "command", token, "error", err)
		return false, fmt.Errorf("failed to delete command %q for bot %d: %w", token, botID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}
