package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
)

const cronFields = 5

// NewScheduleHandler returns the handler for SCHEDULE commands:
//
//	/cmd <min> <hour> <dom> <month> <dow> <message...>   schedule a recurring message
//	/cmd list                                            list this bot's jobs
//	/cmd clear                                           remove this bot's jobs
//
// The definition's response template, when set, is the message and may use {message}.
func NewScheduleHandler(deps HandlerDeps) command.Handler {
	return scheduleHandler{deps}
}

type scheduleHandler struct {
	deps HandlerDeps
}

func (h scheduleHandler) Name() string    { return "schedule" }
func (h scheduleHandler) Priority() int   { return 5 }
func (h scheduleHandler) Available() bool { return h.deps.Jobs != nil && h.deps.Sessions != nil }

func (h scheduleHandler) CanHandle(ctx context.Context, req command.Request) bool {
	return resolveTyped(ctx, h.deps, req, isType(database.CommandSchedule)) != nil
}

func (h scheduleHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	log := h.deps.Logger.With("handler", "schedule")

	def := resolveTyped(ctx, h.deps, req, isType(database.CommandSchedule))
	if def == nil {
		return command.Response{}, fmt.Errorf("command %s is no longer a schedule command", req.Command)
	}

	if len(req.Args) == 1 {
		switch strings.ToLower(req.Args[0]) {
		case "list":
			return command.Reply(req, formatJobs(h.deps.Jobs.ListBotJobs(req.BotID))), nil
		case "clear":
			n := h.deps.Jobs.RemoveBotJobs(req.BotID)
			log.InfoContext(ctx, "Cleared scheduled jobs", "bot_id", req.BotID, "user_id", req.UserID, "count", n)
			return command.Reply(req, fmt.Sprintf("Removed %d scheduled job(s).", n)), nil
		}
	}

	if len(req.Args) < cronFields {
		return command.Reply(req, h.usage(req.Command)), nil
	}

	spec := strings.Join(req.Args[:cronFields], " ")
	message := strings.Join(req.Args[cronFields:], " ")
	text := message
	if def.ResponseTemplate != "" {
		text = RenderTemplate(def.ResponseTemplate, req, map[string]string{"message": message})
	}
	if strings.TrimSpace(text) == "" {
		return command.Reply(req, h.usage(req.Command)), nil
	}

	botID, chatID := req.BotID, req.ChatID
	name := fmt.Sprintf("%s:%d", def.Command, chatID)
	id, err := h.deps.Jobs.ScheduleCron(botID, name, spec, func(ctx context.Context) {
		if err := sendTo(ctx, h.deps, botID, chatID, text); err != nil {
			log.WarnContext(ctx, "Failed to deliver scheduled message", "bot_id", botID, "chat_id", chatID, "error", err)
		}
	})
	if err != nil {
		log.WarnContext(ctx, "Rejected schedule", "bot_id", botID, "spec", spec, "error", err)
		return command.Reply(req, fmt.Sprintf("Invalid schedule %q.\n%s", spec, h.usage(req.Command))), nil
	}

	log.InfoContext(ctx, "Scheduled message", "bot_id", botID, "chat_id", chatID, "job_id", id, "spec", spec)
	return command.Reply(req, fmt.Sprintf("Scheduled job %s (%s).", id, spec)), nil
}

func (h scheduleHandler) usage(token string) string {
	return fmt.Sprintf("Usage: %[1]s <min> <hour> <day> <month> <weekday> <message>\n%[1]s list\n%[1]s clear", token)
}

func formatJobs(jobs []bot.JobInfo) string {
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	var sb strings.Builder
	sb.WriteString("Scheduled jobs:")
	for _, j := range jobs {
		next := "-"
		if !j.NextRun.IsZero() {
			next = j.NextRun.UTC().Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(&sb, "\n%s %s next: %s", j.ID, j.Name, next)
	}
	return sb.String()
}
