package tasks

import (
	"context"
)

// newSessionMonitorTask creates the crash monitor sweep. Crashed sessions are
// reported to the registry's crash hook; the task itself never fails.
func newSessionMonitorTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "session_monitor")

	return func(ctx context.Context) error {
		if removed := deps.Sessions.CheckSessions(ctx); removed > 0 {
			log.WarnContext(ctx, "Removed crashed sessions", "count", removed)
		}
		return nil
	}
}
