// Package tasks implements the system tasks run by the scheduler.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/botfleet/internal/database"
)

// SessionChecker sweeps live sessions and reports how many crashed ones it removed.
type SessionChecker interface {
	CheckSessions(ctx context.Context) int
}

// TaskDeps contains the dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger         *slog.Logger
	Store          database.Store
	Sessions       SessionChecker
	// EventRetention bounds the age of kept lifecycle events. Zero means DefaultEventRetention.
	EventRetention time.Duration
}
