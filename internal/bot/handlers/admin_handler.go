package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgard/botfleet/internal/command"
	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/permission"
)

// errUsage makes the privileged handler reply with the area's help text.
var errUsage = errors.New("usage")

// area handles one /admin area. It returns the reply text.
type area func(ctx context.Context, req command.Request, action string, args []string) (string, error)

// NewAdminHandler returns the /admin handler. Callers need ADMIN or above.
func NewAdminHandler(deps HandlerDeps) command.Handler {
	return privilegedHandler{
		deps:     deps,
		name:     "admin",
		token:    "/admin",
		priority: 10,
		minRole:  permission.RoleAdmin,
	}
}

// NewModHandler returns the /mod handler. Callers need MODERATOR or above and are
// limited to read-only actions and command allow lists.
func NewModHandler(deps HandlerDeps) command.Handler {
	return privilegedHandler{
		deps:     deps,
		name:     "moderator",
		token:    "/mod",
		priority: 20,
		minRole:  permission.RoleModerator,
		readOnly: true,
	}
}

type privilegedHandler struct {
	deps     HandlerDeps
	name     string
	token    string
	priority int
	minRole  permission.Role
	readOnly bool
}

func (h privilegedHandler) Name() string    { return h.name }
func (h privilegedHandler) Priority() int   { return h.priority }
func (h privilegedHandler) Available() bool { return h.deps.Gate != nil }

func (h privilegedHandler) CanHandle(_ context.Context, req command.Request) bool {
	return req.Command == h.token
}

func (h privilegedHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	log := h.deps.Logger.With("handler", h.name)

	role := h.deps.Gate.EffectiveRole(ctx, req.UserID, req.BotID)
	if !role.AtLeast(h.minRole) {
		log.WarnContext(ctx, "Unauthorized access attempt", "bot_id", req.BotID, "user_id", req.UserID, "role", role)
		return command.Fail(req, apperrors.KindForbidden, fmt.Sprintf("%s requires %s", h.token, h.minRole)), nil
	}

	if len(req.Args) < 2 {
		return command.Reply(req, h.help()), nil
	}
	areaName := strings.ToLower(req.Args[0])
	action := strings.ToLower(req.Args[1])
	args := req.Args[2:]

	fn, ok := h.areas()[areaName]
	if !ok {
		return command.Reply(req, h.help()), nil
	}
	if h.readOnly && !moderatorAction(areaName, action) {
		return command.Reply(req, fmt.Sprintf("Moderators cannot use %s %s.\n\n%s", areaName, action, h.help())), nil
	}

	log.InfoContext(ctx, "Privileged command", "bot_id", req.BotID, "user_id", req.UserID, "area", areaName, "action", action)

	text, err := fn(ctx, req, action, args)
	switch {
	case errors.Is(err, errUsage):
		return command.Reply(req, h.help()), nil
	case err != nil:
		return command.Response{}, fmt.Errorf("%s %s: %w", areaName, action, err)
	}
	return command.Reply(req, text), nil
}

func (h privilegedHandler) areas() map[string]area {
	return map[string]area{
		"role":     h.roleArea,
		"commands": h.commandsArea,
		"plugin":   h.pluginArea,
		"config":   h.configArea,
		"bot":      h.botArea,
	}
}

func moderatorAction(areaName, action string) bool {
	switch action {
	case "get", "list":
		return true
	case "allow", "disallow":
		return areaName == "commands"
	default:
		return false
	}
}

func (h privilegedHandler) help() string {
	if h.readOnly {
		return strings.Join([]string{
			"Usage: /mod <area> <action> [args]",
			"role get <user> | role list",
			"commands list | commands get <token>",
			"commands allow <user> <token> | commands disallow <user> <token>",
			"plugin list | plugin get <name>",
			"config list | config get <key>",
			"bot list | bot get [id]",
		}, "\n")
	}
	return strings.Join([]string{
		"Usage: /admin <area> <action> [args]",
		"role get <user> | role set <user> <role> | role list",
		"commands list | commands get <token>",
		"commands activate|deactivate|delete <token>",
		"commands allow|disallow <user> <token>",
		"plugin list | plugin get <name>",
		"plugin load|activate|deactivate|delete|compile <name>",
		"config list | config get <key> | config set <key> <value> | config delete <key>",
		"bot list | bot get [id] | bot activate|deactivate|load <id>",
	}, "\n")
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "@"), 10, 64)
	if err != nil {
		return 0, errUsage
	}
	return id, nil
}

func commandToken(s string) string {
	token := command.NormalizeToken(s)
	if token != "" && !strings.HasPrefix(token, "/") {
		token = "/" + token
	}
	return token
}
