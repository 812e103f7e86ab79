// Package session owns the live platform connections of running bots.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgard/botfleet/internal/database"
)

// Client is the per-bot platform connection.
type Client interface {
	// SetWebhook registers url as the push endpoint. secret may be empty.
	SetWebhook(ctx context.Context, url, secret string) error
	// DeleteWebhook removes any push registration.
	DeleteWebhook(ctx context.Context) error
	// Poll runs the long-polling receive loop until ctx is cancelled.
	// It returns nil on cancellation and an error if the loop ends by itself.
	Poll(ctx context.Context) error
	// Deliver processes one pushed update payload.
	Deliver(ctx context.Context, payload []byte) error
	// Send posts a text message to a chat.
	Send(ctx context.Context, chatID int64, text string) error
}

// ClientFactory builds the client for one bot.
type ClientFactory func(ctx context.Context, bot database.Bot) (Client, error)

// Adapter is the connection handle of one running session: either *PushAdapter or *PullAdapter.
type Adapter interface {
	Identity() int64
	Mode() database.ConnectionMode
	Send(ctx context.Context, chatID int64, text string) error
	Close(ctx context.Context) error
	Healthy() bool
	Err() error
}

// PushAdapter receives updates through the webhook server.
type PushAdapter struct {
	botID  int64
	url    string
	client Client
}

func (a *PushAdapter) Identity() int64               { return a.botID }
func (a *PushAdapter) Mode() database.ConnectionMode { return database.ModePush }
func (a *PushAdapter) Healthy() bool                 { return true }
func (a *PushAdapter) Err() error                    { return nil }

// URL returns the registered webhook URL.
func (a *PushAdapter) URL() string { return a.url }

// Send posts text to chatID.
func (a *PushAdapter) Send(ctx context.Context, chatID int64, text string) error {
	return a.client.Send(ctx, chatID, text)
}

// Deliver handles one webhook payload synchronously.
func (a *PushAdapter) Deliver(ctx context.Context, payload []byte) error {
	return a.client.Deliver(ctx, payload)
}

// Close deregisters the webhook.
func (a *PushAdapter) Close(ctx context.Context) error {
	if err := a.client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("failed to delete webhook for bot %d: %w", a.botID, err)
	}
	return nil
}

var errLoopExited = errors.New("receive loop exited")

// PullAdapter owns a long-polling receive loop.
type PullAdapter struct {
	botID        int64
	client       Client
	closeTimeout time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool

	mu      sync.Mutex
	exitErr error
}

func newPullAdapter(botID int64, client Client, closeTimeout time.Duration) *PullAdapter {
	return &PullAdapter{
		botID:        botID,
		client:       client,
		closeTimeout: closeTimeout,
		done:         make(chan struct{}),
	}
}

// run starts the receive loop. The loop outlives the caller's context and
// ends only through Close or by failing.
func (a *PullAdapter) run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		defer close(a.done)
		defer func() {
			if r := recover(); r != nil {
				a.setErr(fmt.Errorf("receive loop panicked: %v", r))
			}
		}()

		err := a.client.Poll(ctx)
		if err == nil && !a.stopping.Load() {
			err = errLoopExited
		}
		a.setErr(err)
	}()
}

func (a *PullAdapter) setErr(err error) {
	a.mu.Lock()
	a.exitErr = err
	a.mu.Unlock()
}

func (a *PullAdapter) Identity() int64               { return a.botID }
func (a *PullAdapter) Mode() database.ConnectionMode { return database.ModePull }

// Send posts text to chatID.
func (a *PullAdapter) Send(ctx context.Context, chatID int64, text string) error {
	return a.client.Send(ctx, chatID, text)
}

// Healthy is false once the loop has exited without Close being called.
func (a *PullAdapter) Healthy() bool {
	select {
	case <-a.done:
		return a.stopping.Load()
	default:
		return true
	}
}

// Err returns the error the loop exited with, if any.
func (a *PullAdapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exitErr
}

// Close stops the receive loop and waits for it to exit, bounded by the close timeout.
func (a *PullAdapter) Close(ctx context.Context) error {
	a.stopping.Store(true)
	if a.cancel != nil {
		a.cancel()
	}

	timer := time.NewTimer(a.closeTimeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("receive loop of bot %d did not exit within %s", a.botID, a.closeTimeout)
	case <-ctx.Done():
		return fmt.Errorf("waiting for receive loop of bot %d: %w", a.botID, ctx.Err())
	}
}
