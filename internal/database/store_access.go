package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetPlugin returns the plugin configuration, or nil, nil if it does not exist.
func (s *sqlxStore) GetPlugin(ctx context.Context, name string) (*PluginConfig, error) {
	var p PluginConfig
	err := s.db.GetContext(ctx, &p, `
		SELECT name, description, active, timeout_seconds, max_retries, created_at, updated_at
		FROM plugins WHERE name = ?`, name)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting plugin", "plugin", name, "error", err)
		return nil, fmt.Errorf("failed to get plugin %q: %w", name, err)
	}
	return &p, nil
}

// ListPlugins returns every plugin configuration.
func (s *sqlxStore) ListPlugins(ctx context.Context) ([]PluginConfig, error) {
	var plugins []PluginConfig
	err := s.db.SelectContext(ctx, &plugins, `
		SELECT name, description, active, timeout_seconds, max_retries, created_at, updated_at
		FROM plugins ORDER BY name`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing plugins", "error", err)
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	return plugins, nil
}

// SavePlugin inserts or updates a plugin configuration.
func (s *sqlxStore) SavePlugin(ctx context.Context, plugin *PluginConfig) error {
	if plugin == nil || plugin.Name == "" {
		return fmt.Errorf("plugin must have a name")
	}
	if plugin.TimeoutSeconds <= 0 {
		return fmt.Errorf("plugin %q must have a positive timeout", plugin.Name)
	}
	if plugin.MaxRetries < 0 {
		return fmt.Errorf("plugin %q cannot have negative retries", plugin.Name)
	}

	now := time.Now().UTC()
	plugin.UpdatedAt = now
	if plugin.CreatedAt.IsZero() {
		plugin.CreatedAt = now
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO plugins (name, description, active, timeout_seconds, max_retries, created_at, updated_at)
		VALUES (:name, :description, :active, :timeout_seconds, :max_retries, :created_at, :updated_at)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			active = excluded.active,
			timeout_seconds = excluded.timeout_seconds,
			max_retries = excluded.max_retries,
			updated_at = excluded.updated_at`, plugin)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving plugin", "plugin", plugin.Name, "error", err)
		return fmt.Errorf("failed to save plugin %q: %w", plugin.Name, err)
	}
	return nil
}

// SetPluginActive toggles the active flag.
func (s *sqlxStore) SetPluginActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plugins SET active = ?, updated_at = ? WHERE name = ?`, active, time.Now().UTC(), name)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error toggling plugin", "plugin", name, "error", err)
		return fmt.Errorf("failed to toggle plugin %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("plugin %q: %w", name, ErrNotFound)
	}
	return nil
}

// DeletePlugin removes the plugin configuration.
func (s *sqlxStore) DeletePlugin(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE name = ?`, name)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting plugin", "plugin", name, "error", err)
		return false, fmt.Errorf("failed to delete plugin %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// GetUserRole returns the stored role for a user of a bot.
func (s *sqlxStore) GetUserRole(ctx context.Context, botID, userID int64) (string, bool, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM user_roles WHERE bot_id = ? AND user_id = ?`, botID, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user role", "bot_id", botID, "user_id", userID, "error", err)
		return "", false, fmt.Errorf("failed to get role of user %d on bot %d: %w", userID, botID, err)
	}
	return role, true, nil
}

// SetUserRole inserts or replaces a role assignment.
func (s *sqlxStore) SetUserRole(ctx context.Context, botID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (bot_id, user_id, role, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (bot_id, user_id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at`,
		botID, userID, role, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting user role", "bot_id", botID, "user_id", userID, "error", err)
		return fmt.Errorf("failed to set role of user %d on bot %d: %w", userID, botID, err)
	}
	return nil
}

// ListUserRoles returns the role assignments of a bot ordered by user.
func (s *sqlxStore) ListUserRoles(ctx context.Context, botID int64) ([]UserRole, error) {
	var roles []UserRole
	err := s.db.SelectContext(ctx, &roles,
		`SELECT bot_id, user_id, role, updated_at FROM user_roles WHERE bot_id = ? ORDER BY user_id`, botID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing user roles", "bot_id", botID, "error", err)
		return nil, fmt.Errorf("failed to list roles for bot %d: %w", botID, err)
	}
	return roles, nil
}

// SetCommandAccess records an explicit allow or deny rule.
func (s *sqlxStore) SetCommandAccess(ctx context.Context, botID, userID int64, token string, allowed bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_access (bot_id, user_id, command, allowed, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, user_id, command) DO UPDATE SET allowed = excluded.allowed, updated_at = excluded.updated_at`,
		botID, userID, token, allowed, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting command access",
			"bot_id", botID, "user_id", userID, "command", token, "error", err)
		return fmt.Errorf("failed to set access to %q for user %d: %w", token, userID, err)
	}
	return nil
}

// ListCommandAccess returns the explicit rules for a user keyed by token.
func (s *sqlxStore) ListCommandAccess(ctx context.Context, botID, userID int64) (map[string]bool, error) {
	var rules []CommandAccess
	err := s.db.SelectContext(ctx, &rules, `
		SELECT bot_id, user_id, command, allowed, updated_at
		FROM command_access WHERE bot_id = ? AND user_id = ?`, botID, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing command access", "bot_id", botID, "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list access rules for user %d: %w", userID, err)
	}

	out := make(map[string]bool, len(rules))
	for _, r := range rules {
		out[r.Command] = r.Allowed
	}
	return out, nil
}

// GetSetting returns a bot setting.
func (s *sqlxStore) GetSetting(ctx context.Context, botID int64, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM bot_settings WHERE bot_id = ? AND key = ?`, botID, key)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting setting", "bot_id", botID, "key", key, "error", err)
		return "", false, fmt.Errorf("failed to get setting %q for bot %d: %w", key, botID, err)
	}
	return value, true, nil
}

// SetSetting inserts or replaces a bot setting.
func (s *sqlxStore) SetSetting(ctx context.Context, botID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_settings (bot_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (bot_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		botID, key, value, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving setting", "bot_id", botID, "key", key, "error", err)
		return fmt.Errorf("failed to save setting %q for bot %d: %w", key, botID, err)
	}
	return nil
}

// ListSettings returns every setting for a bot.
func (s *sqlxStore) ListSettings(ctx context.Context, botID int64) ([]Setting, error) {
	var settings []Setting
	err := s.db.SelectContext(ctx, &settings,
		`SELECT bot_id, key, value, updated_at FROM bot_settings WHERE bot_id = ? ORDER BY key`, botID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing settings", "bot_id", botID, "error", err)
		return nil, fmt.Errorf("failed to list settings for bot %d: %w", botID, err)
	}
	return settings, nil
}

// DeleteSetting removes a bot setting.
func (s *sqlxStore) DeleteSetting(ctx context.Context, botID int64, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bot_settings WHERE bot_id = ? AND key = ?`, botID, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting setting", "bot_id", botID, "key", key, "error", err)
		return false, fmt.Errorf("failed to delete setting %q for bot %d: %w", key, botID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}
