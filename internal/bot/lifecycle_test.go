package bot_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/session"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeClient is a pull-mode client whose receive loop can be made to fail.
// A hung client ignores cancellation, so closing it times out.
type fakeClient struct {
	botID int64
	fleet *fakeFleet
	fail  chan error
	hung  bool
}

func (c *fakeClient) SetWebhook(context.Context, string, string) error { return nil }
func (c *fakeClient) DeleteWebhook(context.Context) error              { return nil }
func (c *fakeClient) Deliver(context.Context, []byte) error            { return nil }

func (c *fakeClient) Send(_ context.Context, chatID int64, text string) error {
	c.fleet.record(fmt.Sprintf("send:%d:%d:%s", c.botID, chatID, text))
	return nil
}

func (c *fakeClient) Poll(ctx context.Context) error {
	done := ctx.Done()
	if c.hung {
		done = nil
	}
	select {
	case <-done:
		c.fleet.record(fmt.Sprintf("closed:%d", c.botID))
		return nil
	case err := <-c.fail:
		return err
	}
}

// fakeFleet is a session factory that records what happens to its clients.
type fakeFleet struct {
	mu      sync.Mutex
	events  []string
	clients map[int64]*fakeClient
	delay   time.Duration
	openErr error
	hung    bool
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{clients: make(map[int64]*fakeClient)}
}

func (f *fakeFleet) factory(_ context.Context, b database.Bot) (session.Client, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	openErr, hung := f.openErr, f.hung
	f.mu.Unlock()
	if openErr != nil {
		f.record(fmt.Sprintf("refused:%d", b.ID))
		return nil, openErr
	}
	c := &fakeClient{botID: b.ID, fleet: f, fail: make(chan error, 1), hung: hung}
	f.mu.Lock()
	f.clients[b.ID] = c
	f.mu.Unlock()
	f.record(fmt.Sprintf("open:%d", b.ID))
	return c, nil
}

func (f *fakeFleet) set(openErr error, hung bool) {
	f.mu.Lock()
	f.openErr, f.hung = openErr, hung
	f.mu.Unlock()
}

func (f *fakeFleet) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeFleet) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeFleet) count(event string) int {
	n := 0
	for _, e := range f.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeFleet) client(id int64) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[id]
}

type harness struct {
	store     database.Store
	fleet     *fakeFleet
	registry  *session.Registry
	cache     *command.Cache
	lifecycle *bot.Lifecycle
}

func newHarness(t *testing.T, botIDs ...int64) *harness {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "botfleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, discard)

	for _, id := range botIDs {
		require.NoError(t, store.UpsertBot(context.Background(), &database.Bot{
			ID:    id,
			Name:  fmt.Sprintf("bot-%d", id),
			Token: fmt.Sprintf("%d:token", id),
			Mode:  database.ModePull,
		}))
	}

	fleet := newFakeFleet()
	registry := session.NewRegistry(fleet.factory, session.Options{CloseTimeout: time.Second}, discard)
	t.Cleanup(func() { _ = registry.StopAll(context.Background()) })
	cache := command.NewCache(store)

	return &harness{
		store:     store,
		fleet:     fleet,
		registry:  registry,
		cache:     cache,
		lifecycle: bot.NewLifecycle(store, registry, cache, nil, 10*time.Millisecond, discard),
	}
}

func (h *harness) status(t *testing.T, id int64) database.BotStatus {
	t.Helper()
	b, err := h.store.GetBot(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b.Status
}

func TestStartBot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 1)

	b, err := h.lifecycle.StartBot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, database.StatusRunning, b.Status)
	assert.Equal(t, database.StatusRunning, h.status(t, 1))
	assert.True(t, h.registry.IsRunning(1))
	assert.True(t, h.cache.Loaded(1))

	state, err := h.store.GetRuntimeState(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.IsRunning)
	assert.True(t, state.LastStartedAt.Valid)

	events, err := h.store.ListBotEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, bot.EventStart, events[0].Event)
}

func TestStartBotUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.lifecycle.StartBot(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBotNotOperational))
	assert.Empty(t, h.fleet.snapshot())
}

func TestStartBotConcurrentOpensOneSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 5)
	h.fleet.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.lifecycle.StartBot(context.Background(), 5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, h.fleet.count("open:5"))
	assert.Len(t, h.registry.Running(), 1)
}

func TestStartBotFailureMarksErrored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 3)
	h.fleet.set(errors.New("token rejected"), false)

	_, err := h.lifecycle.StartBot(ctx, 3)
	require.Error(t, err)
	assert.ErrorContains(t, err, "token rejected")

	assert.Equal(t, database.StatusErrored, h.status(t, 3))
	assert.False(t, h.registry.IsRunning(3))
	assert.False(t, h.cache.Loaded(3))
	assert.Equal(t, []string{"refused:3"}, h.fleet.snapshot())

	state, err := h.store.GetRuntimeState(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.IsRunning)
	require.True(t, state.LastError.Valid)
	assert.Contains(t, state.LastError.String, "token rejected")

	events, err := h.store.ListBotEvents(ctx, 3, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, bot.EventError, events[0].Event)

	h.fleet.set(nil, false)
	_, err = h.lifecycle.StartBot(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, database.StatusRunning, h.status(t, 3))

	state, err = h.store.GetRuntimeState(ctx, 3)
	require.NoError(t, err)
	assert.True(t, state.IsRunning)
	assert.False(t, state.LastError.Valid)
}

func TestStopBotCloseFailureMarksErrored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 4)
	h.fleet.set(nil, true)

	_, err := h.lifecycle.StartBot(ctx, 4)
	require.NoError(t, err)
	client := h.fleet.client(4)
	t.Cleanup(func() { client.fail <- errors.New("released") })

	err = h.lifecycle.StopBot(ctx, 4)
	require.Error(t, err)
	assert.ErrorContains(t, err, "did not exit")

	assert.Equal(t, database.StatusErrored, h.status(t, 4))
	assert.False(t, h.registry.IsRunning(4), "the session is removed even when closing fails")
	assert.False(t, h.cache.Loaded(4))
	_, err = h.registry.Handler(4)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotRunning))

	state, err := h.store.GetRuntimeState(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.IsRunning)
	require.True(t, state.LastError.Valid)
	assert.Contains(t, state.LastError.String, "close session")
}

func TestStopBot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 2)

	require.NoError(t, h.lifecycle.StopBot(ctx, 2), "stopping an idle bot is a no-op")
	assert.Equal(t, database.StatusStopped, h.status(t, 2))

	_, err := h.lifecycle.StartBot(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.StopBot(ctx, 2))

	assert.Equal(t, database.StatusStopped, h.status(t, 2))
	assert.False(t, h.registry.IsRunning(2))
	assert.False(t, h.cache.Loaded(2))
	assert.Equal(t, []string{"open:2", "closed:2"}, h.fleet.snapshot())

	_, err = h.registry.Handler(2)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotRunning))
}

func TestRestartBotClosesBeforeReopening(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 4)

	_, err := h.lifecycle.StartBot(ctx, 4)
	require.NoError(t, err)

	b, err := h.lifecycle.RestartBot(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, database.StatusRunning, b.Status)
	assert.Equal(t, []string{"open:4", "closed:4", "open:4"}, h.fleet.snapshot())
	assert.Len(t, h.registry.Running(), 1)
}

func TestRestartBotCancelledDuringSettle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)
	lifecycle := bot.NewLifecycle(h.store, h.registry, h.cache, nil, time.Hour, discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := lifecycle.RestartBot(ctx, 4)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.registry.IsRunning(4))
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 6, 7, 8)

	require.NoError(t, h.store.SetBotStatus(ctx, 6, database.StatusSuspended))
	require.NoError(t, h.store.SetBotStatus(ctx, 7, database.StatusRunning))

	require.NoError(t, h.lifecycle.ReconcileStartup(ctx))

	assert.True(t, h.registry.IsRunning(6))
	assert.True(t, h.registry.IsRunning(7))
	assert.False(t, h.registry.IsRunning(8))
	assert.Equal(t, database.StatusStopped, h.status(t, 8))

	events, err := h.store.ListBotEvents(ctx, 6, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, bot.EventResume, events[0].Event)

	require.NoError(t, h.lifecycle.ReconcileShutdown(ctx))

	assert.Empty(t, h.registry.Running())
	assert.Equal(t, database.StatusSuspended, h.status(t, 6))
	assert.Equal(t, database.StatusSuspended, h.status(t, 7))
	assert.Equal(t, database.StatusStopped, h.status(t, 8))
}

func TestCrashMovesBotToErrored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 3)

	_, err := h.lifecycle.StartBot(ctx, 3)
	require.NoError(t, err)

	h.fleet.client(3).fail <- errors.New("connection reset")

	require.Eventually(t, func() bool {
		return h.registry.CheckSessions(ctx) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, database.StatusErrored, h.status(t, 3))
	_, err = h.registry.Handler(3)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotRunning))
	assert.False(t, h.cache.Loaded(3))

	state, err := h.store.GetRuntimeState(ctx, 3)
	require.NoError(t, err)
	assert.False(t, state.IsRunning)
	assert.Equal(t, "connection reset", state.LastError.String)

	// An errored bot can be started again.
	_, err = h.lifecycle.StartBot(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, database.StatusRunning, h.status(t, 3))
}

func TestStatusAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, 10, 11)

	_, err := h.lifecycle.StartBot(ctx, 11)
	require.NoError(t, err)

	report, err := h.lifecycle.Status(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, database.StatusRunning, report.Bot.Status)
	require.NotNil(t, report.Session)
	assert.Equal(t, database.ModePull, report.Session.Mode)

	reports, err := h.lifecycle.List(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Nil(t, reports[0].Session)
	assert.Nil(t, reports[0].State)
	assert.NotNil(t, reports[1].Session)

	_, err = h.lifecycle.Status(ctx, 12)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBotNotOperational))
}
