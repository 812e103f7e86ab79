// Package handlers contains the capability handlers of the command chain and
// their registration.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/gemini"
	"github.com/edgard/botfleet/internal/permission"
	"github.com/edgard/botfleet/internal/plugin"
)

// BotController drives bot lifecycle transitions for the admin handler.
type BotController interface {
	StartBot(ctx context.Context, id int64) (*database.Bot, error)
	StopBot(ctx context.Context, id int64) error
	RestartBot(ctx context.Context, id int64) (*database.Bot, error)
	Status(ctx context.Context, id int64) (*bot.StatusReport, error)
	List(ctx context.Context) ([]bot.StatusReport, error)
}

// JobScheduler owns the jobs created by SCHEDULE and REMINDER commands.
type JobScheduler interface {
	ScheduleCron(botID int64, name, spec string, fn func(ctx context.Context)) (string, error)
	ScheduleOnce(botID int64, name string, at time.Time, fn func(ctx context.Context)) (string, error)
	RemoveBotJobs(botID int64) int
	ListBotJobs(botID int64) []bot.JobInfo
}

// HandlerDeps provides dependencies for the capability handlers.
// Plugins, Gemini, Bots and Jobs may be nil; the handlers needing them report
// themselves unavailable.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Resolver *command.Resolver
	Cache    *command.Cache
	Gate     *permission.Gate
	Plugins  *plugin.Gateway
	Gemini   gemini.Client
	Bots     BotController
	Jobs     JobScheduler
	Sessions bot.SessionLookup
}

// resolveTyped returns the enabled definition for req when its type is accepted, or nil.
func resolveTyped(ctx context.Context, deps HandlerDeps, req command.Request, accept func(database.CommandType) bool) *database.CommandDefinition {
	if !req.IsCommand() {
		return nil
	}
	def, err := deps.Resolver.Resolve(ctx, req.BotID, req.Command)
	if err != nil {
		deps.Logger.WarnContext(ctx, "Failed to resolve command", "bot_id", req.BotID, "command", req.Command, "error", err)
		return nil
	}
	if def == nil || !def.Enabled || !accept(def.Type) {
		return nil
	}
	return def
}

func isType(t database.CommandType) func(database.CommandType) bool {
	return func(other database.CommandType) bool { return other == t }
}

// sendTo delivers text to chatID through the bot's live session.
func sendTo(ctx context.Context, deps HandlerDeps, botID, chatID int64, text string) error {
	adapter, err := deps.Sessions.Handler(botID)
	if err != nil {
		return err
	}
	return adapter.Send(ctx, chatID, text)
}
