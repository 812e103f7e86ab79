// Package bot orchestrates the fleet: per-bot lifecycle transitions, inbound
// dispatch and the scheduler.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/session"
)

// Event names appended to the bot history.
const (
	EventStart   = "start"
	EventStop    = "stop"
	EventCrash   = "crash"
	EventSuspend = "suspend"
	EventResume  = "resume"
	EventError   = "error"
)

// JobRemover drops the scheduled jobs owned by a bot.
type JobRemover interface {
	RemoveBotJobs(botID int64) int
}

// StatusReport is the persisted view of one bot.
type StatusReport struct {
	Bot     database.Bot
	State   *database.BotRuntimeState
	Session *session.Info
}

// Lifecycle runs start, stop and restart transitions for every bot and keeps the
// persisted status and runtime state in step with the session registry.
type Lifecycle struct {
	store       database.Store
	registry    *session.Registry
	cache       *command.Cache
	jobs        JobRemover
	settleDelay time.Duration
	logger      *slog.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	statusMu sync.RWMutex
	statuses map[int64]database.BotStatus
}

// NewLifecycle wires the orchestrator and installs its crash hook on the registry.
// jobs may be nil.
func NewLifecycle(store database.Store, registry *session.Registry, cache *command.Cache, jobs JobRemover, settleDelay time.Duration, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lifecycle{
		store:       store,
		registry:    registry,
		cache:       cache,
		jobs:        jobs,
		settleDelay: settleDelay,
		logger:      logger.With("component", "lifecycle"),
		locks:       make(map[int64]*sync.Mutex),
		statuses:    make(map[int64]database.BotStatus),
	}
	registry.OnCrash(l.HandleCrash)
	return l
}

// StartBot opens a session for id. Starting an operational bot is a no-op.
func (l *Lifecycle) StartBot(ctx context.Context, id int64) (*database.Bot, error) {
	unlock := l.lock(id)
	defer unlock()

	return l.start(ctx, id, EventStart)
}

func (l *Lifecycle) start(ctx context.Context, id int64, event string) (*database.Bot, error) {
	bot, err := l.store.GetBot(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("failed to load bot %d", id), err)
	}
	if bot == nil {
		return nil, apperrors.Newf(apperrors.KindBotNotOperational, "bot %d does not exist", id)
	}

	if l.operational(id) {
		l.logger.WarnContext(ctx, "Bot is already running, ignoring start", "bot_id", id)
		return bot, nil
	}

	l.logger.InfoContext(ctx, "Starting bot", "bot_id", id, "mode", bot.Mode)
	l.setStatus(ctx, id, database.StatusStarting)

	if err := l.cache.Load(ctx, id); err != nil {
		return nil, l.fail(ctx, id, "load configuration", err)
	}

	info, err := l.registry.Start(ctx, *bot)
	if err != nil {
		return nil, l.fail(ctx, id, "open session", err)
	}

	now := time.Now().UTC()
	if err := l.saveState(ctx, id, func(st *database.BotRuntimeState) {
		st.IsRunning = true
		st.LastStartedAt = sql.NullTime{Time: now, Valid: true}
		st.LastError = sql.NullString{}
	}); err != nil {
		if stopErr := l.registry.Stop(context.WithoutCancel(ctx), id); stopErr != nil {
			l.logger.WarnContext(ctx, "Failed to close session after persistence failure", "bot_id", id, "error", stopErr)
		}
		return nil, l.fail(ctx, id, "persist runtime state", err)
	}
	if err := l.persistStatus(ctx, id, database.StatusRunning); err != nil {
		if stopErr := l.registry.Stop(context.WithoutCancel(ctx), id); stopErr != nil {
			l.logger.WarnContext(ctx, "Failed to close session after persistence failure", "bot_id", id, "error", stopErr)
		}
		return nil, l.fail(ctx, id, "persist status", err)
	}
	l.appendEvent(ctx, id, event, string(info.Mode))

	bot.Status = database.StatusRunning
	l.logger.InfoContext(ctx, "Bot started", "bot_id", id, "mode", info.Mode)
	return bot, nil
}

// StopBot closes the session for id. Stopping a bot that is not operational is a no-op.
func (l *Lifecycle) StopBot(ctx context.Context, id int64) error {
	unlock := l.lock(id)
	defer unlock()

	if !l.operational(id) {
		l.logger.DebugContext(ctx, "Bot is not running, ignoring stop", "bot_id", id)
		return nil
	}

	l.logger.InfoContext(ctx, "Stopping bot", "bot_id", id)
	l.setStatus(ctx, id, database.StatusStopping)

	stopErr := l.registry.Stop(ctx, id)
	l.release(id)
	if stopErr != nil {
		return l.fail(ctx, id, "close session", stopErr)
	}

	if err := l.saveState(ctx, id, func(st *database.BotRuntimeState) {
		st.IsRunning = false
		st.LastStoppedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}); err != nil {
		return l.fail(ctx, id, "persist runtime state", err)
	}
	if err := l.persistStatus(ctx, id, database.StatusStopped); err != nil {
		return l.fail(ctx, id, "persist status", err)
	}
	l.appendEvent(ctx, id, EventStop, "")

	l.logger.InfoContext(ctx, "Bot stopped", "bot_id", id)
	return nil
}

// RestartBot stops id, waits for the settling delay and starts it again.
// The session is always removed from the registry before the new one is opened.
func (l *Lifecycle) RestartBot(ctx context.Context, id int64) (*database.Bot, error) {
	if err := l.StopBot(ctx, id); err != nil {
		l.logger.WarnContext(ctx, "Stop failed during restart, starting anyway", "bot_id", id, "error", err)
	}

	if l.settleDelay > 0 {
		timer := time.NewTimer(l.settleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return l.StartBot(ctx, id)
}

// Status returns the persisted state of id.
func (l *Lifecycle) Status(ctx context.Context, id int64) (*StatusReport, error) {
	bot, err := l.store.GetBot(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("failed to load bot %d", id), err)
	}
	if bot == nil {
		return nil, apperrors.Newf(apperrors.KindBotNotOperational, "bot %d does not exist", id)
	}

	state, err := l.store.GetRuntimeState(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("failed to load runtime state of bot %d", id), err)
	}

	report := &StatusReport{Bot: *bot, State: state}
	for _, info := range l.registry.Running() {
		if info.BotID == id {
			report.Session = &info
			break
		}
	}
	return report, nil
}

// List returns the status of every bot ordered by id.
func (l *Lifecycle) List(ctx context.Context) ([]StatusReport, error) {
	bots, err := l.store.ListBots(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to list bots", err)
	}

	sessions := make(map[int64]session.Info)
	for _, info := range l.registry.Running() {
		sessions[info.BotID] = info
	}

	reports := make([]StatusReport, 0, len(bots))
	for _, b := range bots {
		state, err := l.store.GetRuntimeState(ctx, b.ID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("failed to load runtime state of bot %d", b.ID), err)
		}
		report := StatusReport{Bot: b, State: state}
		if info, ok := sessions[b.ID]; ok {
			report.Session = &info
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ReconcileStartup restarts bots suspended by a graceful shutdown and bots left
// running by an unclean exit. Per-bot failures do not abort the sweep.
func (l *Lifecycle) ReconcileStartup(ctx context.Context) error {
	bots, err := l.store.ListBotsByStatus(ctx, database.StatusSuspended, database.StatusRunning, database.StatusStarting)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "failed to list bots to resume", err)
	}

	l.logger.InfoContext(ctx, "Reconciling bots on startup", "count", len(bots))

	var errs []error
	for _, b := range bots {
		unlock := l.lock(b.ID)
		_, err := l.start(ctx, b.ID, EventResume)
		unlock()
		if err != nil {
			l.logger.ErrorContext(ctx, "Failed to resume bot", "bot_id", b.ID, "previous_status", b.Status, "error", err)
			errs = append(errs, fmt.Errorf("bot %d: %w", b.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ReconcileShutdown closes every live session and marks its bot SUSPENDED so the
// next startup resumes it.
func (l *Lifecycle) ReconcileShutdown(ctx context.Context) error {
	ids := make(map[int64]struct{})
	for _, info := range l.registry.Running() {
		ids[info.BotID] = struct{}{}
	}
	bots, err := l.store.ListBotsByStatus(ctx, database.StatusRunning, database.StatusStarting)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to list running bots", "error", err)
	}
	for _, b := range bots {
		ids[b.ID] = struct{}{}
	}

	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	l.logger.InfoContext(ctx, "Suspending bots for shutdown", "count", len(sorted))

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, id := range sorted {
		if err := l.suspend(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("bot %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Lifecycle) suspend(ctx context.Context, id int64) error {
	unlock := l.lock(id)
	defer unlock()

	stopErr := l.registry.Stop(ctx, id)
	if stopErr != nil {
		l.logger.WarnContext(ctx, "Error closing session during shutdown", "bot_id", id, "error", stopErr)
	}
	l.release(id)

	if err := l.saveState(ctx, id, func(st *database.BotRuntimeState) {
		st.IsRunning = false
		st.LastStoppedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}); err != nil {
		return err
	}
	if err := l.persistStatus(ctx, id, database.StatusSuspended); err != nil {
		return err
	}
	l.appendEvent(ctx, id, EventSuspend, "")
	return stopErr
}

// HandleCrash records a session whose receive loop died on its own. The registry has
// already removed the session.
func (l *Lifecycle) HandleCrash(ctx context.Context, id int64, cause error) {
	unlock := l.lock(id)
	defer unlock()

	msg := "receive loop exited"
	if cause != nil {
		msg = cause.Error()
	}
	l.logger.ErrorContext(ctx, "Bot session crashed", "bot_id", id, "error", msg)

	l.release(id)
	l.setStatus(ctx, id, database.StatusErrored)
	if err := l.saveState(ctx, id, func(st *database.BotRuntimeState) {
		st.IsRunning = false
		st.LastError = sql.NullString{String: msg, Valid: true}
	}); err != nil {
		l.logger.ErrorContext(ctx, "Failed to persist crash state", "bot_id", id, "error", err)
	}
	l.appendEvent(ctx, id, EventCrash, msg)
}

// fail moves id to ERRORED, persists err and returns it.
func (l *Lifecycle) fail(ctx context.Context, id int64, stage string, err error) error {
	ctx = context.WithoutCancel(ctx)
	l.logger.ErrorContext(ctx, "Bot transition failed", "bot_id", id, "stage", stage, "error", err)

	l.cache.Unload(id)
	l.setStatus(ctx, id, database.StatusErrored)
	if saveErr := l.saveState(ctx, id, func(st *database.BotRuntimeState) {
		st.IsRunning = false
		st.LastError = sql.NullString{String: fmt.Sprintf("%s: %v", stage, err), Valid: true}
	}); saveErr != nil {
		l.logger.ErrorContext(ctx, "Failed to persist runtime error", "bot_id", id, "error", saveErr)
	}
	l.appendEvent(ctx, id, EventError, fmt.Sprintf("%s: %v", stage, err))

	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.KindInternal, stage, err)
}

// release drops the per-bot cache and jobs.
func (l *Lifecycle) release(id int64) {
	l.cache.Unload(id)
	if l.jobs != nil {
		l.jobs.RemoveBotJobs(id)
	}
}

// operational reports whether id is STARTING or RUNNING with a live session.
func (l *Lifecycle) operational(id int64) bool {
	l.statusMu.RLock()
	status := l.statuses[id]
	l.statusMu.RUnlock()

	if status != database.StatusStarting && status != database.StatusRunning {
		return false
	}
	return l.registry.IsRunning(id)
}

// setStatus records status in memory and persists it best-effort.
func (l *Lifecycle) setStatus(ctx context.Context, id int64, status database.BotStatus) {
	if err := l.persistStatus(ctx, id, status); err != nil {
		l.logger.WarnContext(ctx, "Failed to persist bot status", "bot_id", id, "status", status, "error", err)
	}
}

func (l *Lifecycle) persistStatus(ctx context.Context, id int64, status database.BotStatus) error {
	l.statusMu.Lock()
	l.statuses[id] = status
	l.statusMu.Unlock()

	return l.store.SetBotStatus(ctx, id, status)
}

// saveState reads the runtime state row, applies update and writes it back.
func (l *Lifecycle) saveState(ctx context.Context, id int64, update func(*database.BotRuntimeState)) error {
	state, err := l.store.GetRuntimeState(ctx, id)
	if err != nil {
		return err
	}
	if state == nil {
		state = &database.BotRuntimeState{BotID: id}
	}
	update(state)
	return l.store.SaveRuntimeState(ctx, state)
}

func (l *Lifecycle) appendEvent(ctx context.Context, id int64, event, detail string) {
	if err := l.store.AppendBotEvent(ctx, id, event, detail); err != nil {
		l.logger.WarnContext(ctx, "Failed to append bot event", "bot_id", id, "event", event, "error", err)
	}
}

// lock serializes transitions of one bot.
func (l *Lifecycle) lock(id int64) func() {
	l.locksMu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}
