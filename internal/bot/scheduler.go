package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/botfleet/internal/bot/tasks"
	"github.com/edgard/botfleet/internal/config"
)

// JobInfo describes one scheduled job owned by a bot.
type JobInfo struct {
	ID      string
	Name    string
	NextRun time.Time
}

// Scheduler runs the configured system tasks and the jobs created by SCHEDULE and
// REMINDER commands. Bot jobs are tagged "bot:<id>".
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler. Nothing runs until Start.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		log.Error("Failed to create gocron scheduler", "error", err)
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
		cfg:       cfg,
		taskMap:   taskMap,
	}, nil
}

// Start schedules every enabled system task and starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.logger.Debug("Configuring scheduler jobs...")

	scheduledCount := 0
	if s.cfg != nil {
		for taskName, taskConfig := range s.cfg.Tasks {
			if s.scheduleTask(taskName, taskConfig) {
				scheduledCount++
			}
		}
	}
	if scheduledCount == 0 {
		s.logger.Warn("No scheduler tasks configured.")
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler initialized and started", "tasks_scheduled", scheduledCount)
	return nil
}

func (s *Scheduler) scheduleTask(taskName string, taskConfig config.TaskConfig) bool {
	if !taskConfig.Enabled {
		s.logger.Info("Skipping disabled task", "task_name", taskName)
		return false
	}

	taskFunc, exists := s.taskMap[taskName]
	if !exists {
		s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", taskName)
		return false
	}

	var definition gocron.JobDefinition
	switch {
	case taskConfig.Schedule != "":
		definition = gocron.CronJob(taskConfig.Schedule, true)
	case taskConfig.Interval > 0:
		definition = gocron.DurationJob(taskConfig.Interval)
	default:
		s.logger.Warn("Scheduled task enabled but has no schedule or interval, skipping", "task_name", taskName)
		return false
	}

	_, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(
			func(ctx context.Context, name string) {
				s.logger.Debug("Running scheduled task", "task_name", name)
				startTime := time.Now()
				if taskErr := taskFunc(ctx); taskErr != nil {
					s.logger.Error("Scheduled task failed", "task_name", name, "error", taskErr)
				}
				s.logger.Debug("Finished scheduled task", "task_name", name, "duration", time.Since(startTime))
			},
			context.Background(),
			taskName,
		),
		gocron.WithName(taskName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.logger.Error("Failed to schedule task", "task_name", taskName, "schedule", taskConfig.Schedule, "interval", taskConfig.Interval, "error", err)
		return false
	}

	s.logger.Info("Scheduled task", "task_name", taskName, "schedule", taskConfig.Schedule, "interval", taskConfig.Interval)
	return true
}

// Stop shuts the scheduler down, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}

// ScheduleCron runs fn for botID on a five-field cron expression.
func (s *Scheduler) ScheduleCron(botID int64, name, spec string, fn func(ctx context.Context)) (string, error) {
	return s.addBotJob(botID, name, gocron.CronJob(spec, false), fn)
}

// ScheduleOnce runs fn for botID once at the given time.
func (s *Scheduler) ScheduleOnce(botID int64, name string, at time.Time, fn func(ctx context.Context)) (string, error) {
	return s.addBotJob(botID, name, gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)), fn)
}

func (s *Scheduler) addBotJob(botID int64, name string, definition gocron.JobDefinition, fn func(ctx context.Context)) (string, error) {
	job, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(
			func(ctx context.Context, id int64, jobName string) {
				s.logger.Debug("Running bot job", "bot_id", id, "job_name", jobName)
				fn(ctx)
			},
			context.Background(),
			botID,
			name,
		),
		gocron.WithName(name),
		gocron.WithTags(botTag(botID)),
	)
	if err != nil {
		s.logger.Warn("Failed to schedule bot job", "bot_id", botID, "job_name", name, "error", err)
		return "", fmt.Errorf("failed to schedule job %q: %w", name, err)
	}

	s.logger.Info("Scheduled bot job", "bot_id", botID, "job_name", name, "job_id", job.ID())
	return job.ID().String(), nil
}

// RemoveBotJobs removes every job owned by botID and returns how many there were.
func (s *Scheduler) RemoveBotJobs(botID int64) int {
	count := len(s.botJobs(botID))
	if count == 0 {
		return 0
	}

	s.scheduler.RemoveByTags(botTag(botID))
	s.logger.Info("Removed bot jobs", "bot_id", botID, "count", count)
	return count
}

// ListBotJobs returns the jobs owned by botID ordered by next run.
func (s *Scheduler) ListBotJobs(botID int64) []JobInfo {
	jobs := s.botJobs(botID)
	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		next, _ := j.NextRun()
		infos = append(infos, JobInfo{ID: j.ID().String(), Name: j.Name(), NextRun: next})
	}
	sort.Slice(infos, func(i, k int) bool {
		return infos[i].NextRun.Before(infos[k].NextRun)
	})
	return infos
}

func (s *Scheduler) botJobs(botID int64) []gocron.Job {
	tag := botTag(botID)
	var owned []gocron.Job
	for _, j := range s.scheduler.Jobs() {
		for _, t := range j.Tags() {
			if t == tag {
				owned = append(owned, j)
				break
			}
		}
	}
	return owned
}

func botTag(botID int64) string {
	return fmt.Sprintf("bot:%d", botID)
}
