package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/botfleet/internal/command"
	apperrors "github.com/edgard/botfleet/internal/errors"
)

// WelcomeSettingKey is the per-bot setting that overrides the /start text.
const WelcomeSettingKey = "welcome"

// NewDefaultHandler returns the catch-all handler: /start, /help, unknown commands
// and plain text.
func NewDefaultHandler(deps HandlerDeps) command.Handler {
	return defaultHandler{deps}
}

type defaultHandler struct {
	deps HandlerDeps
}

func (h defaultHandler) Name() string                                    { return "default" }
func (h defaultHandler) Priority() int                                   { return 1000 }
func (h defaultHandler) Available() bool                                 { return true }
func (h defaultHandler) CanHandle(context.Context, command.Request) bool { return true }

func (h defaultHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	switch {
	case req.Command == "/start":
		return command.Reply(req, h.welcome(ctx, req)), nil
	case req.Command == "/help":
		return h.help(ctx, req)
	case req.IsCommand():
		return command.Fail(req, apperrors.KindCommandNotFound, fmt.Sprintf("unknown command %s", req.Command)), nil
	default:
		return command.Reply(req, ""), nil
	}
}

func (h defaultHandler) welcome(ctx context.Context, req command.Request) string {
	text, ok, err := h.deps.Store.GetSetting(ctx, req.BotID, WelcomeSettingKey)
	if err != nil {
		h.deps.Logger.WarnContext(ctx, "Failed to load welcome setting", "bot_id", req.BotID, "error", err)
	}
	if !ok || text == "" {
		text = h.deps.Config.Messages.Welcome
	}
	return RenderTemplate(text, req, nil)
}

func (h defaultHandler) help(ctx context.Context, req command.Request) (command.Response, error) {
	defs, err := h.deps.Resolver.Enabled(ctx, req.BotID)
	if err != nil {
		return command.Response{}, fmt.Errorf("failed to list commands: %w", err)
	}

	tokens := make([]string, 0, len(defs))
	descriptions := make(map[string]string, len(defs))
	for _, def := range defs {
		if !strings.HasPrefix(def.Command, "/") {
			continue
		}
		tokens = append(tokens, def.Command)
		descriptions[def.Command] = def.Description
	}
	allowed := h.deps.Gate.FilterAllowed(ctx, req.UserID, req.BotID, tokens)

	var sb strings.Builder
	sb.WriteString(h.deps.Config.Messages.HelpHeader)
	sb.WriteString("\n/start\n/help")
	for _, token := range allowed {
		sb.WriteString("\n")
		sb.WriteString(token)
		if d := descriptions[token]; d != "" {
			sb.WriteString(" - ")
			sb.WriteString(d)
		}
	}
	return command.Reply(req, sb.String()), nil
}
