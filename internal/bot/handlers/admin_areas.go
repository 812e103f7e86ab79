package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/permission"
)

func (h privilegedHandler) roleArea(ctx context.Context, req command.Request, action string, args []string) (string, error) {
	switch action {
	case "get":
		if len(args) < 1 {
			return "", errUsage
		}
		userID, err := parseUserID(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("User %d: %s", userID, h.deps.Gate.EffectiveRole(ctx, userID, req.BotID)), nil

	case "set":
		if len(args) < 2 {
			return "", errUsage
		}
		userID, err := parseUserID(args[0])
		if err != nil {
			return "", err
		}
		role, ok := permission.ParseRole(args[1])
		if !ok {
			return fmt.Sprintf("Unknown role %q. Roles: BANNED, USER, MODERATOR, ADMIN.", args[1]), nil
		}
		if role == permission.RoleOwner || h.deps.Gate.IsOwner(userID) {
			return "Owners are set in the configuration file.", nil
		}
		if err := h.deps.Store.SetUserRole(ctx, req.BotID, userID, role.String()); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %d is now %s.", userID, role), nil

	case "list":
		roles, err := h.deps.Store.ListUserRoles(ctx, req.BotID)
		if err != nil {
			return "", err
		}
		if len(roles) == 0 {
			return "No roles assigned.", nil
		}
		lines := make([]string, 0, len(roles)+1)
		lines = append(lines, "Roles:")
		for _, r := range roles {
			lines = append(lines, fmt.Sprintf("%d %s", r.UserID, r.Role))
		}
		return strings.Join(lines, "\n"), nil
	}
	return "", errUsage
}

func (h privilegedHandler) commandsArea(ctx context.Context, req command.Request, action string, args []string) (string, error) {
	switch action {
	case "list":
		defs, err := h.deps.Store.ListCommands(ctx, req.BotID)
		if err != nil {
			return "", err
		}
		if len(defs) == 0 {
			return "No commands defined.", nil
		}
		lines := make([]string, 0, len(defs)+1)
		lines = append(lines, "Commands:")
		for _, d := range defs {
			lines = append(lines, fmt.Sprintf("%s %s %s (%s)", d.Command, d.Type, enabledLabel(d.Enabled), scopeLabel(d.IsGlobal())))
		}
		return strings.Join(lines, "\n"), nil

	case "get":
		if len(args) < 1 {
			return "", errUsage
		}
		token := commandToken(args[0])
		def, err := h.deps.Resolver.Lookup(ctx, req.BotID, token)
		if err != nil {
			return "", err
		}
		if def == nil {
			return fmt.Sprintf("Command %s not found.", token), nil
		}
		text := fmt.Sprintf("Command %s\nType: %s\nStatus: %s\nScope: %s\nPriority: %d",
			def.Command, def.Type, enabledLabel(def.Enabled), scopeLabel(def.IsGlobal()), def.Priority)
		if def.Description != "" {
			text += "\nDescription: " + def.Description
		}
		if def.PluginName.Valid {
			text += "\nPlugin: " + def.PluginName.String
		}
		return text, nil

	case "activate", "deactivate":
		if len(args) < 1 {
			return "", errUsage
		}
		token := commandToken(args[0])
		def, err := h.deps.Resolver.Lookup(ctx, req.BotID, token)
		if err != nil {
			return "", err
		}
		if def == nil {
			return fmt.Sprintf("Command %s not found.", token), nil
		}
		enabled := action == "activate"
		if err := h.deps.Store.SetCommandEnabled(ctx, req.BotID, token, enabled); err != nil {
			return "", err
		}
		if err := h.deps.Cache.Refresh(ctx, req.BotID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Command %s %s.", token, enabledLabel(enabled)), nil

	case "delete":
		if len(args) < 1 {
			return "", errUsage
		}
		token := commandToken(args[0])
		deleted, err := h.deps.Store.DeleteCommand(ctx, req.BotID, token)
		if err != nil {
			return "", err
		}
		if !deleted {
			return fmt.Sprintf("Command %s has no definition for this bot.", token), nil
		}
		if err := h.deps.Cache.Refresh(ctx, req.BotID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Command %s deleted.", token), nil

	case "allow", "disallow":
		if len(args) < 2 {
			return "", errUsage
		}
		userID, err := parseUserID(args[0])
		if err != nil {
			return "", err
		}
		token := commandToken(args[1])
		allowed := action == "allow"
		if err := h.deps.Store.SetCommandAccess(ctx, req.BotID, userID, token, allowed); err != nil {
			return "", err
		}
		if allowed {
			return fmt.Sprintf("User %d may use %s.", userID, token), nil
		}
		return fmt.Sprintf("User %d may no longer use %s.", userID, token), nil
	}
	return "", errUsage
}

func (h privilegedHandler) pluginArea(ctx context.Context, req command.Request, action string, args []string) (string, error) {
	if action == "list" {
		return h.listPlugins(ctx)
	}
	if len(args) < 1 {
		return "", errUsage
	}
	name := args[0]

	switch action {
	case "get":
		cfg, err := h.deps.Store.GetPlugin(ctx, name)
		if err != nil {
			return "", err
		}
		registered := h.deps.Plugins != nil && h.deps.Plugins.Registered(name)
		if cfg == nil && !registered {
			return fmt.Sprintf("Plugin %s not found.", name), nil
		}
		lines := []string{"Plugin " + name}
		if cfg != nil {
			lines = append(lines,
				fmt.Sprintf("Status: %s", activeLabel(cfg.Active)),
				fmt.Sprintf("Timeout: %ds", cfg.TimeoutSeconds),
				fmt.Sprintf("Max retries: %d", cfg.MaxRetries))
		}
		if registered {
			stats, _ := h.deps.Plugins.Stats(name)
			lines = append(lines,
				fmt.Sprintf("Loaded: %t", h.deps.Plugins.Loaded(name)),
				fmt.Sprintf("Executions: %d (ok %d, failed %d, timeouts %d)", stats.Executions, stats.Successes, stats.Failures, stats.Timeouts),
				fmt.Sprintf("Average latency: %s", stats.AverageLatency().Round(time.Millisecond)))
		} else {
			lines = append(lines, "Loaded: false")
		}
		return strings.Join(lines, "\n"), nil

	case "compile":
		return fmt.Sprintf("Plugins are compiled outside the bot. Register %s with the runtime, then run /admin plugin load %s.", name, name), nil

	case "load", "activate", "deactivate", "delete":
		cfg, err := h.deps.Store.GetPlugin(ctx, name)
		if err != nil {
			return "", err
		}
		if cfg == nil {
			return fmt.Sprintf("Plugin %s not found.", name), nil
		}

		text := ""
		switch action {
		case "load":
			if err := h.setPluginLoaded(name, cfg.Active); err != nil {
				return "", err
			}
			text = fmt.Sprintf("Plugin %s configuration reloaded.", name)
		case "activate", "deactivate":
			active := action == "activate"
			if err := h.deps.Store.SetPluginActive(ctx, name, active); err != nil {
				return "", err
			}
			if err := h.setPluginLoaded(name, active); err != nil {
				return "", err
			}
			text = fmt.Sprintf("Plugin %s %s.", name, activeLabel(active))
		case "delete":
			if _, err := h.deps.Store.DeletePlugin(ctx, name); err != nil {
				return "", err
			}
			if err := h.setPluginLoaded(name, false); err != nil {
				return "", err
			}
			text = fmt.Sprintf("Plugin %s deleted.", name)
		}

		if err := h.deps.Cache.RefreshAll(ctx); err != nil {
			return "", err
		}
		return text, nil
	}
	return "", errUsage
}

// setPluginLoaded mirrors the stored active flag onto a registered plugin.
func (h privilegedHandler) setPluginLoaded(name string, active bool) error {
	if h.deps.Plugins == nil || !h.deps.Plugins.Registered(name) {
		return nil
	}
	if active {
		return h.deps.Plugins.Activate(name)
	}
	return h.deps.Plugins.Deactivate(name)
}

func (h privilegedHandler) listPlugins(ctx context.Context) (string, error) {
	configs, err := h.deps.Store.ListPlugins(ctx)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool, len(configs))
	lines := []string{"Plugins:"}
	for _, cfg := range configs {
		seen[cfg.Name] = true
		loaded := h.deps.Plugins != nil && h.deps.Plugins.Loaded(cfg.Name)
		lines = append(lines, fmt.Sprintf("%s %s loaded=%t", cfg.Name, activeLabel(cfg.Active), loaded))
	}
	if h.deps.Plugins != nil {
		for _, name := range h.deps.Plugins.Names() {
			if !seen[name] {
				lines = append(lines, fmt.Sprintf("%s unconfigured loaded=%t", name, h.deps.Plugins.Loaded(name)))
			}
		}
	}
	if len(lines) == 1 {
		return "No plugins.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (h privilegedHandler) configArea(ctx context.Context, req command.Request, action string, args []string) (string, error) {
	switch action {
	case "list":
		settings, err := h.deps.Store.ListSettings(ctx, req.BotID)
		if err != nil {
			return "", err
		}
		if len(settings) == 0 {
			return "No settings.", nil
		}
		lines := []string{"Settings:"}
		for _, s := range settings {
			lines = append(lines, fmt.Sprintf("%s = %s", s.Key, s.Value))
		}
		return strings.Join(lines, "\n"), nil

	case "get":
		if len(args) < 1 {
			return "", errUsage
		}
		value, ok, err := h.deps.Store.GetSetting(ctx, req.BotID, args[0])
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("Setting %s is not set.", args[0]), nil
		}
		return fmt.Sprintf("%s = %s", args[0], value), nil

	case "set":
		if len(args) < 2 {
			return "", errUsage
		}
		value := strings.Join(args[1:], " ")
		if err := h.deps.Store.SetSetting(ctx, req.BotID, args[0], value); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", args[0], value), nil

	case "delete":
		if len(args) < 1 {
			return "", errUsage
		}
		deleted, err := h.deps.Store.DeleteSetting(ctx, req.BotID, args[0])
		if err != nil {
			return "", err
		}
		if !deleted {
			return fmt.Sprintf("Setting %s is not set.", args[0]), nil
		}
		return fmt.Sprintf("Setting %s deleted.", args[0]), nil
	}
	return "", errUsage
}

func (h privilegedHandler) botArea(ctx context.Context, req command.Request, action string, args []string) (string, error) {
	if h.deps.Bots == nil {
		return "Bot control is not available.", nil
	}

	if action == "list" {
		reports, err := h.deps.Bots.List(ctx)
		if err != nil {
			return "", err
		}
		if len(reports) == 0 {
			return "No bots.", nil
		}
		lines := []string{"Bots:"}
		for _, r := range reports {
			lines = append(lines, formatBotLine(r))
		}
		return strings.Join(lines, "\n"), nil
	}

	id := req.BotID
	if len(args) > 0 {
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", errUsage
		}
		id = parsed
	}

	switch action {
	case "get":
		report, err := h.deps.Bots.Status(ctx, id)
		if err != nil {
			return "", err
		}
		return formatBotReport(*report), nil

	case "activate", "deactivate", "load":
		if len(args) < 1 {
			return "", errUsage
		}
		if id != req.BotID && !h.deps.Gate.IsOwner(req.UserID) {
			return "Only owners can control other bots.", nil
		}
		if id == req.BotID && action != "activate" {
			// Closing the session serving this request must not wait on the request.
			go h.transition(context.WithoutCancel(ctx), action, id)
			return fmt.Sprintf("Bot %d: %s requested.", id, action), nil
		}
		if err := h.transition(ctx, action, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Bot %d: %s done.", id, action), nil
	}
	return "", errUsage
}

func (h privilegedHandler) transition(ctx context.Context, action string, id int64) error {
	var err error
	switch action {
	case "activate":
		_, err = h.deps.Bots.StartBot(ctx, id)
	case "deactivate":
		err = h.deps.Bots.StopBot(ctx, id)
	case "load":
		_, err = h.deps.Bots.RestartBot(ctx, id)
	}
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Bot transition failed", "bot_id", id, "action", action, "error", err)
	}
	return err
}

func formatBotLine(r bot.StatusReport) string {
	line := fmt.Sprintf("%d %s %s %s", r.Bot.ID, r.Bot.Name, r.Bot.Mode, r.Bot.Status)
	if r.Session != nil {
		line += " (live)"
	}
	return line
}

func formatBotReport(r bot.StatusReport) string {
	lines := []string{
		fmt.Sprintf("Bot %d (%s)", r.Bot.ID, r.Bot.Name),
		fmt.Sprintf("Mode: %s", r.Bot.Mode),
		fmt.Sprintf("Status: %s", r.Bot.Status),
	}
	if r.Session != nil {
		lines = append(lines, fmt.Sprintf("Session: live since %s", r.Session.StartedAt.UTC().Format(time.RFC3339)))
	}
	if r.State != nil {
		if r.State.LastStartedAt.Valid {
			lines = append(lines, "Last started: "+r.State.LastStartedAt.Time.UTC().Format(time.RFC3339))
		}
		if r.State.LastStoppedAt.Valid {
			lines = append(lines, "Last stopped: "+r.State.LastStoppedAt.Time.UTC().Format(time.RFC3339))
		}
		if r.State.LastError.Valid && r.State.LastError.String != "" {
			lines = append(lines, "Last error: "+r.State.LastError.String)
		}
	}
	return strings.Join(lines, "\n")
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func scopeLabel(global bool) string {
	if global {
		return "global"
	}
	return "bot"
}
