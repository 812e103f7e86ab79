package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
)

// DefaultCloseTimeout bounds how long Stop waits for a receive loop to exit.
const DefaultCloseTimeout = 10 * time.Second

// CrashFunc is called once for every session the monitor finds dead.
type CrashFunc func(ctx context.Context, botID int64, err error)

// Info is a read-only snapshot of a running session.
type Info struct {
	BotID     int64
	Mode      database.ConnectionMode
	StartedAt time.Time
}

// Options configures a Registry.
type Options struct {
	// PublicBaseURL is used to build webhook URLs for push bots without an explicit one.
	PublicBaseURL string
	// SecretToken is registered with every webhook and checked by the webhook server.
	SecretToken  string
	CloseTimeout time.Duration
}

type entry struct {
	// adapter is nil while the session is still connecting.
	adapter   Adapter
	startedAt time.Time
}

// Registry is the table of running sessions. At most one entry exists per bot.
type Registry struct {
	factory ClientFactory
	opts    Options
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[int64]*entry

	crashMu sync.RWMutex
	onCrash CrashFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(factory ClientFactory, opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	return &Registry{
		factory:  factory,
		opts:     opts,
		logger:   logger.With("component", "session_registry"),
		sessions: make(map[int64]*entry),
	}
}

// OnCrash installs the hook invoked for sessions found dead by CheckSessions.
func (r *Registry) OnCrash(fn CrashFunc) {
	r.crashMu.Lock()
	r.onCrash = fn
	r.crashMu.Unlock()
}

// SecretToken returns the webhook secret, empty if none is configured.
func (r *Registry) SecretToken() string {
	return r.opts.SecretToken
}

// WebhookURL returns the push endpoint for bot.
func (r *Registry) WebhookURL(bot database.Bot) string {
	if bot.WebhookURL != "" {
		return bot.WebhookURL
	}
	if r.opts.PublicBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/webhook/%d", strings.TrimRight(r.opts.PublicBaseURL, "/"), bot.ID)
}

// Start opens a session for bot. It fails with ALREADY_RUNNING if one exists.
// If Stop is called while the connection is being opened, the new connection is
// closed and NOT_RUNNING is returned.
func (r *Registry) Start(ctx context.Context, bot database.Bot) (Info, error) {
	r.mu.Lock()
	if _, exists := r.sessions[bot.ID]; exists {
		r.mu.Unlock()
		return Info{}, apperrors.Newf(apperrors.KindAlreadyRunning, "bot %d already has a session", bot.ID)
	}
	reservation := &entry{}
	r.sessions[bot.ID] = reservation
	r.mu.Unlock()

	adapter, err := r.connect(ctx, bot)
	if err != nil {
		r.mu.Lock()
		if r.sessions[bot.ID] == reservation {
			delete(r.sessions, bot.ID)
		}
		r.mu.Unlock()
		r.logger.ErrorContext(ctx, "Failed to open session", "bot_id", bot.ID, "mode", bot.Mode, "error", err)
		return Info{}, err
	}

	r.mu.Lock()
	if r.sessions[bot.ID] != reservation {
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "Session stopped while starting, closing new connection", "bot_id", bot.ID)
		if closeErr := adapter.Close(ctx); closeErr != nil {
			r.logger.WarnContext(ctx, "Error closing abandoned connection", "bot_id", bot.ID, "error", closeErr)
		}
		return Info{}, apperrors.Newf(apperrors.KindNotRunning, "bot %d was stopped while starting", bot.ID)
	}
	reservation.adapter = adapter
	reservation.startedAt = time.Now()
	info := Info{BotID: bot.ID, Mode: adapter.Mode(), StartedAt: reservation.startedAt}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Session started", "bot_id", bot.ID, "mode", info.Mode)
	return info, nil
}

func (r *Registry) connect(ctx context.Context, bot database.Bot) (Adapter, error) {
	if r.factory == nil {
		return nil, apperrors.New(apperrors.KindInternal, "no client factory configured")
	}

	client, err := r.factory(ctx, bot)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for bot %d: %w", bot.ID, err)
	}

	switch bot.Mode {
	case database.ModePush:
		url := r.WebhookURL(bot)
		if url == "" {
			return nil, apperrors.Newf(apperrors.KindBadRequest, "bot %d is in push mode but has no webhook url", bot.ID)
		}
		if err := client.DeleteWebhook(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear stale webhook for bot %d: %w", bot.ID, err)
		}
		if err := client.SetWebhook(ctx, url, r.opts.SecretToken); err != nil {
			return nil, fmt.Errorf("failed to register webhook for bot %d: %w", bot.ID, err)
		}
		return &PushAdapter{botID: bot.ID, url: url, client: client}, nil

	case database.ModePull, "":
		// Polling is refused by the platform while a webhook is set.
		if err := client.DeleteWebhook(ctx); err != nil {
			return nil, fmt.Errorf("failed to delete webhook for bot %d: %w", bot.ID, err)
		}
		adapter := newPullAdapter(bot.ID, client, r.opts.CloseTimeout)
		adapter.run()
		return adapter, nil

	default:
		return nil, apperrors.Newf(apperrors.KindBadRequest, "bot %d has unknown mode %q", bot.ID, bot.Mode)
	}
}

// Stop removes the bot's session and closes it. Stopping a bot without a session is a no-op.
// The entry is gone even when closing fails.
func (r *Registry) Stop(ctx context.Context, botID int64) error {
	r.mu.Lock()
	e, ok := r.sessions[botID]
	delete(r.sessions, botID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if e.adapter == nil {
		r.logger.InfoContext(ctx, "Cancelled session that was still starting", "bot_id", botID)
		return nil
	}

	if err := e.adapter.Close(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Error closing session", "bot_id", botID, "error", err)
		return err
	}

	r.logger.InfoContext(ctx, "Session stopped", "bot_id", botID)
	return nil
}

// StopAll stops every session and returns the first close error.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	for _, info := range r.Running() {
		if err := r.Stop(ctx, info.BotID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Handler returns the adapter of a running session.
func (r *Registry) Handler(botID int64) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[botID]
	if !ok || e.adapter == nil {
		return nil, apperrors.Newf(apperrors.KindNotRunning, "bot %d is not running", botID)
	}
	return e.adapter, nil
}

// Webhook returns the push adapter of a running push session.
func (r *Registry) Webhook(botID int64) (*PushAdapter, error) {
	adapter, err := r.Handler(botID)
	if err != nil {
		return nil, err
	}
	push, ok := adapter.(*PushAdapter)
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotRunning, "bot %d has no webhook session", botID)
	}
	return push, nil
}

// IsRunning reports whether the bot has an established session.
func (r *Registry) IsRunning(botID int64) bool {
	_, err := r.Handler(botID)
	return err == nil
}

// Running returns a snapshot of the established sessions ordered by bot ID.
func (r *Registry) Running() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for id, e := range r.sessions {
		if e.adapter == nil {
			continue
		}
		infos = append(infos, Info{BotID: id, Mode: e.adapter.Mode(), StartedAt: e.startedAt})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].BotID < infos[j].BotID })
	return infos
}

// CheckSessions removes every session whose receive loop died and reports it to
// the crash hook. It returns the number of sessions removed.
func (r *Registry) CheckSessions(ctx context.Context) int {
	type dead struct {
		botID int64
		entry *entry
	}

	r.mu.RLock()
	var candidates []dead
	for id, e := range r.sessions {
		if e.adapter != nil && !e.adapter.Healthy() {
			candidates = append(candidates, dead{botID: id, entry: e})
		}
	}
	r.mu.RUnlock()

	r.crashMu.RLock()
	hook := r.onCrash
	r.crashMu.RUnlock()

	removed := 0
	for _, d := range candidates {
		r.mu.Lock()
		current := r.sessions[d.botID]
		if current == d.entry {
			delete(r.sessions, d.botID)
		}
		r.mu.Unlock()
		if current != d.entry {
			continue
		}

		removed++
		crashErr := d.entry.adapter.Err()
		r.logger.ErrorContext(ctx, "Session crashed", "bot_id", d.botID, "error", crashErr)

		if err := d.entry.adapter.Close(ctx); err != nil {
			r.logger.WarnContext(ctx, "Error releasing crashed session", "bot_id", d.botID, "error", err)
		}
		if hook != nil {
			hook(ctx, d.botID, crashErr)
		}
	}
	return removed
}
