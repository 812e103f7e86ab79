package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const botColumns = `id, name, token, mode, webhook_url, status, created_at, updated_at`

// GetBot returns the bot with the given ID, or nil, nil if it does not exist.
func (s *sqlxStore) GetBot(ctx context.Context, botID int64) (*Bot, error) {
	if botID == 0 {
		return nil, fmt.Errorf("bot_id cannot be zero")
	}

	var bot Bot
	err := s.db.GetContext(ctx, &bot, `SELECT `+botColumns+` FROM bots WHERE id = ?`, botID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No bot found", "bot_id", botID)
		return nil, nil

	case isCtxErr(err):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching bot", "bot_id", botID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting bot by ID", "bot_id", botID, "error", err)
		return nil, fmt.Errorf("failed to get bot %d: %w", botID, err)
	}

	return &bot, nil
}

// ListBots returns every bot ordered by ID.
func (s *sqlxStore) ListBots(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	if err := s.db.SelectContext(ctx, &bots, `SELECT `+botColumns+` FROM bots ORDER BY id`); err != nil {
		s.logger.ErrorContext(ctx, "Error listing bots", "error", err)
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	return bots, nil
}

// ListBotsByStatus returns the bots whose status is one of statuses.
func (s *sqlxStore) ListBotsByStatus(ctx context.Context, statuses ...BotStatus) ([]Bot, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+botColumns+` FROM bots WHERE status IN (?) ORDER BY id`, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}

	var bots []Bot
	if err := s.db.SelectContext(ctx, &bots, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing bots by status", "statuses", statuses, "error", err)
		return nil, fmt.Errorf("failed to list bots by status: %w", err)
	}
	return bots, nil
}

// UpsertBot inserts a bot or refreshes its identity fields, keeping the persisted status.
func (s *sqlxStore) UpsertBot(ctx context.Context, bot *Bot) error {
	if bot == nil {
		return fmt.Errorf("cannot save nil bot")
	}
	if bot.ID == 0 {
		return fmt.Errorf("bot must have a non-zero id")
	}
	if bot.Token == "" {
		return fmt.Errorf("bot %d must have a token", bot.ID)
	}
	if bot.Mode == "" {
		bot.Mode = ModePull
	}
	if bot.Mode != ModePull && bot.Mode != ModePush {
		return fmt.Errorf("bot %d has invalid connection mode %q", bot.ID, bot.Mode)
	}
	if bot.Status == "" {
		bot.Status = StatusStopped
	}

	now := time.Now().UTC()
	bot.UpdatedAt = now
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}

	query := `
		INSERT INTO bots (id, name, token, mode, webhook_url, status, created_at, updated_at)
		VALUES (:id, :name, :token, :mode, :webhook_url, :status, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			token = excluded.token,
			mode = excluded.mode,
			webhook_url = excluded.webhook_url,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, bot); err != nil {
		s.logger.ErrorContext(ctx, "Error saving bot", "bot_id", bot.ID, "error", err)
		return fmt.Errorf("failed to save bot %d: %w", bot.ID, err)
	}

	s.logger.DebugContext(ctx, "Bot saved", "bot_id", bot.ID, "mode", bot.Mode)
	return nil
}

// SetBotStatus updates the persisted lifecycle status.
func (s *sqlxStore) SetBotStatus(ctx context.Context, botID int64, status BotStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bots SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), botID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating bot status", "bot_id", botID, "status", status, "error", err)
		return fmt.Errorf("failed to set status of bot %d: %w", botID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("bot %d not found", botID)
	}
	return nil
}

// GetRuntimeState returns the runtime state row, or nil, nil if the bot never started.
func (s *sqlxStore) GetRuntimeState(ctx context.Context, botID int64) (*BotRuntimeState, error) {
	var state BotRuntimeState
	err := s.db.GetContext(ctx, &state, `
		SELECT bot_id, is_running, last_started_at, last_stopped_at, last_error, updated_at
		FROM bot_runtime_state WHERE bot_id = ?`, botID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting runtime state", "bot_id", botID, "error", err)
		return nil, fmt.Errorf("failed to get runtime state of bot %d: %w", botID, err)
	}
	return &state, nil
}

// SaveRuntimeState writes the runtime state row.
func (s *sqlxStore) SaveRuntimeState(ctx context.Context, state *BotRuntimeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil runtime state")
	}
	state.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO bot_runtime_state (bot_id, is_running, last_started_at, last_stopped_at, last_error, updated_at)
		VALUES (:bot_id, :is_running, :last_started_at, :last_stopped_at, :last_error, :updated_at)
		ON CONFLICT (bot_id) DO UPDATE SET
			is_running = excluded.is_running,
			last_started_at = excluded.last_started_at,
			last_stopped_at = excluded.last_stopped_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, state); err != nil {
		s.logger.ErrorContext(ctx, "Error saving runtime state", "bot_id", state.BotID, "error", err)
		return fmt.Errorf("failed to save runtime state of bot %d: %w", state.BotID, err)
	}
	return nil
}

// AppendBotEvent records one lifecycle history entry.
func (s *sqlxStore) AppendBotEvent(ctx context.Context, botID int64, event, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_events (bot_id, event, detail, created_at) VALUES (?, ?, ?, ?)`,
		botID, event, detail, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error appending bot event", "bot_id", botID, "event", event, "error", err)
		return fmt.Errorf("failed to append event for bot %d: %w", botID, err)
	}
	return nil
}

// ListBotEvents returns the newest events for a bot.
func (s *sqlxStore) ListBotEvents(ctx context.Context, botID int64, limit int) ([]BotEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var events []BotEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, bot_id, event, detail, created_at
		FROM bot_events WHERE bot_id = ?
		ORDER BY id DESC LIMIT ?`, botID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing bot events", "bot_id", botID, "error", err)
		return nil, fmt.Errorf("failed to list events for bot %d: %w", botID, err)
	}
	return events, nil
}

// PruneBotEvents deletes events older than cutoff.
func (s *sqlxStore) PruneBotEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bot_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning bot events", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to prune bot events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned bot events: %w", err)
	}
	return removed, nil
}
