package tasks

import (
	"context"
	"fmt"
	"time"
)

// DefaultEventRetention is how long lifecycle events are kept when TaskDeps.EventRetention is zero.
const DefaultEventRetention = 30 * 24 * time.Hour

// newSQLMaintenanceTask prunes lifecycle events past the retention window and then
// compacts the database file.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")
	retention := deps.EventRetention
	if retention <= 0 {
		retention = DefaultEventRetention
	}

	return func(ctx context.Context) error {
		started := time.Now()
		cutoff := started.Add(-retention)

		pruned, err := deps.Store.PruneBotEvents(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Failed to prune bot events", "cutoff", cutoff, "error", err)
			return fmt.Errorf("prune bot events: %w", err)
		}

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Database compaction failed", "pruned_events", pruned, "error", err)
			return fmt.Errorf("compact database: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance finished",
			"pruned_events", pruned, "retention", retention, "duration", time.Since(started))
		return nil
	}
}
