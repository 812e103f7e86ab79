package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
)

const maxReminderDelay = 30 * 24 * time.Hour

// NewReminderHandler returns the handler for REMINDER commands: /cmd <duration> <text>
// sends text back to the chat once the duration has elapsed.
func NewReminderHandler(deps HandlerDeps) command.Handler {
	return reminderHandler{deps: deps, now: time.Now}
}

type reminderHandler struct {
	deps HandlerDeps
	now  func() time.Time
}

func (h reminderHandler) Name() string    { return "reminder" }
func (h reminderHandler) Priority() int   { return 8 }
func (h reminderHandler) Available() bool { return h.deps.Jobs != nil && h.deps.Sessions != nil }

func (h reminderHandler) CanHandle(ctx context.Context, req command.Request) bool {
	return resolveTyped(ctx, h.deps, req, isType(database.CommandReminder)) != nil
}

func (h reminderHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	log := h.deps.Logger.With("handler", "reminder")

	def := resolveTyped(ctx, h.deps, req, isType(database.CommandReminder))
	if def == nil {
		return command.Response{}, fmt.Errorf("command %s is no longer a reminder command", req.Command)
	}

	usage := fmt.Sprintf("Usage: %s <duration> <text>, e.g. %s 10m stretch", req.Command, req.Command)
	if len(req.Args) < 2 {
		return command.Reply(req, usage), nil
	}

	delay, err := time.ParseDuration(req.Args[0])
	if err != nil || delay <= 0 || delay > maxReminderDelay {
		return command.Reply(req, usage), nil
	}

	note := strings.Join(req.Args[1:], " ")
	text := "Reminder: " + note
	if def.ResponseTemplate != "" {
		text = RenderTemplate(def.ResponseTemplate, req, map[string]string{"text": note})
	}

	botID, chatID := req.BotID, req.ChatID
	at := h.now().Add(delay)
	id, err := h.deps.Jobs.ScheduleOnce(botID, fmt.Sprintf("%s:%d", def.Command, chatID), at, func(ctx context.Context) {
		if err := sendTo(ctx, h.deps, botID, chatID, text); err != nil {
			log.WarnContext(ctx, "Failed to deliver reminder", "bot_id", botID, "chat_id", chatID, "error", err)
		}
	})
	if err != nil {
		return command.Response{}, fmt.Errorf("failed to schedule reminder: %w", err)
	}

	log.InfoContext(ctx, "Reminder scheduled", "bot_id", botID, "chat_id", chatID, "job_id", id, "at", at)
	return command.Reply(req, fmt.Sprintf("OK, I will remind you in %s.", delay)), nil
}
