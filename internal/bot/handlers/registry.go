package handlers

import (
	"github.com/edgard/botfleet/internal/command"
)

// RegisterAllHandlers returns every capability handler. The chain orders them by priority.
func RegisterAllHandlers(deps HandlerDeps) []command.Handler {
	return []command.Handler{
		NewScheduleHandler(deps),
		NewReminderHandler(deps),
		NewAdminHandler(deps),
		NewModHandler(deps),
		NewPluginHandler(deps),
		NewAIHandler(deps),
		NewCustomHandler(deps),
		NewDefaultHandler(deps),
	}
}
