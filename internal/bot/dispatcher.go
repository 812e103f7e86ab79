package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/config"
	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/permission"
	"github.com/edgard/botfleet/internal/session"
)

// Router routes one request to a handler.
type Router interface {
	Route(ctx context.Context, req command.Request) command.Response
}

// SessionLookup returns the live adapter of a bot.
type SessionLookup interface {
	Handler(botID int64) (session.Adapter, error)
}

// Dispatcher turns platform updates into command requests and replies over the
// session that received them.
type Dispatcher struct {
	router   Router
	gate     *permission.Gate
	sessions SessionLookup
	messages config.MessagesConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(router Router, gate *permission.Gate, sessions SessionLookup, messages config.MessagesConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router:   router,
		gate:     gate,
		sessions: sessions,
		messages: messages,
		logger:   logger.With("component", "dispatcher"),
	}
}

// HandleUpdate processes one update of botID. Updates without message text are ignored.
func (d *Dispatcher) HandleUpdate(ctx context.Context, botID int64, update *models.Update) {
	req, ok := NewRequest(botID, update)
	if !ok {
		d.logger.DebugContext(ctx, "Ignoring update without message text", "bot_id", botID, "update_id", update.ID)
		return
	}

	resp, reply := d.Dispatch(ctx, req)
	if !reply {
		return
	}

	text := ReplyText(resp, d.messages)
	if text == "" {
		return
	}

	adapter, err := d.sessions.Handler(botID)
	if err != nil {
		d.logger.WarnContext(ctx, "Cannot reply, bot session is gone", "bot_id", botID, "request_id", req.ID, "error", err)
		return
	}
	if err := adapter.Send(ctx, req.ChatID, text); err != nil {
		d.logger.ErrorContext(ctx, "Failed to send reply", "bot_id", botID, "request_id", req.ID, "chat_id", req.ChatID, "error", err)
	}
}

// Dispatch checks permissions and routes req. reply is false when the sender is
// banned and nothing should be sent back.
func (d *Dispatcher) Dispatch(ctx context.Context, req command.Request) (resp command.Response, reply bool) {
	role := d.gate.EffectiveRole(ctx, req.UserID, req.BotID)
	if role == permission.RoleBanned {
		d.logger.InfoContext(ctx, "Ignoring message from banned user", "bot_id", req.BotID, "user_id", req.UserID)
		return command.Response{}, false
	}

	if !d.gate.Allowed(ctx, req.UserID, req.BotID, req.Command) {
		d.logger.InfoContext(ctx, "Command not allowed for user", "bot_id", req.BotID, "user_id", req.UserID, "command", req.Command)
		return command.Fail(req, apperrors.KindForbidden, "command not allowed"), true
	}

	resp = d.router.Route(ctx, req)
	d.logger.DebugContext(ctx, "Request routed",
		"bot_id", req.BotID,
		"request_id", req.ID,
		"command", req.Command,
		"success", resp.Success,
		"error_kind", resp.ErrorKind,
		"duration", resp.ExecutionTime)
	return resp, true
}

// ReplyText picks the text sent back for resp: its own text, or the configured
// message for its error kind.
func ReplyText(resp command.Response, messages config.MessagesConfig) string {
	if resp.Text != "" || resp.Success {
		return resp.Text
	}
	return messages.ForKind(resp.ErrorKind)
}

// NewRequest converts a message update into a request. ok is false for updates
// without a text message.
func NewRequest(botID int64, update *models.Update) (req command.Request, ok bool) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return command.Request{}, false
	}
	msg := update.Message

	token, args := command.ParseInput(msg.Text)
	if token == "" {
		return command.Request{}, false
	}

	req = command.Request{
		ID:         uuid.NewString(),
		BotID:      botID,
		ChatID:     msg.Chat.ID,
		Command:    token,
		Input:      msg.Text,
		Args:       args,
		Params:     map[string]string{},
		ReceivedAt: time.Now().UTC(),
	}
	if msg.From != nil {
		req.UserID = msg.From.ID
		req.Username = msg.From.Username
	}
	return req, true
}
