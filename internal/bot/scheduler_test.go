package bot_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/bot/tasks"
	"github.com/edgard/botfleet/internal/config"
)

func newTestScheduler(t *testing.T, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) *bot.Scheduler {
	t.Helper()
	s, err := bot.NewScheduler(discard, cfg, taskMap)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestSchedulerRunsIntervalTask(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"tick":        {Enabled: true, Interval: 20 * time.Millisecond},
		"unscheduled": {Enabled: true},
		"unknown":     {Enabled: true, Interval: time.Second},
	}}
	newTestScheduler(t, cfg, map[string]tasks.ScheduledTaskFunc{
		"tick": func(context.Context) error {
			runs.Add(1)
			return nil
		},
		"unscheduled": func(context.Context) error { return nil },
	})

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerStartTwice(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, &config.SchedulerConfig{}, nil)
	assert.Error(t, s.Start())
}

func TestScheduleOnceFires(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, &config.SchedulerConfig{}, nil)

	fired := make(chan struct{})
	id, err := s.ScheduleOnce(1, "reminder", time.Now().Add(50*time.Millisecond), func(context.Context) {
		close(fired)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-time job did not fire")
	}
}

func TestBotJobs(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, &config.SchedulerConfig{}, nil)
	noop := func(context.Context) {}

	_, err := s.ScheduleCron(2, "yearly", "0 0 1 1 *", noop)
	require.NoError(t, err)
	_, err = s.ScheduleCron(2, "minutely", "* * * * *", noop)
	require.NoError(t, err)
	_, err = s.ScheduleCron(3, "other", "0 9 * * *", noop)
	require.NoError(t, err)

	_, err = s.ScheduleCron(2, "broken", "not a cron", noop)
	assert.Error(t, err)

	jobs := s.ListBotJobs(2)
	require.Len(t, jobs, 2)
	assert.Equal(t, "minutely", jobs[0].Name, "ordered by next run")
	assert.False(t, jobs[0].NextRun.After(jobs[1].NextRun))

	assert.Equal(t, 2, s.RemoveBotJobs(2))
	assert.Empty(t, s.ListBotJobs(2))
	assert.Len(t, s.ListBotJobs(3), 1)
	assert.Equal(t, 0, s.RemoveBotJobs(2))
}
