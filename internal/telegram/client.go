// Package telegram implements the session client over go-telegram/bot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/logger"
	"github.com/edgard/botfleet/internal/session"
)

// UpdateHandler receives every update of every bot.
type UpdateHandler func(ctx context.Context, botID int64, update *models.Update)

// Client is a session.Client for one Telegram bot.
type Client struct {
	botID  int64
	bot    *bot.Bot
	logger *slog.Logger

	pollMu    sync.Mutex
	abortPoll context.CancelCauseFunc
}

// fatalPollErrors end long polling. Any other getUpdates failure is retried by the library.
var fatalPollErrors = []error{bot.ErrorUnauthorized, bot.ErrorForbidden, bot.ErrorConflict}

var _ session.Client = (*Client)(nil)

// NewClientFactory returns a factory creating one go-telegram/bot instance per bot.
// Every update is logged and passed to handler. Extra options are applied last.
func NewClientFactory(handler UpdateHandler, log *slog.Logger, opts ...bot.Option) session.ClientFactory {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx context.Context, identity database.Bot) (session.Client, error) {
		return NewClient(ctx, identity, handler, log, opts...)
	}
}

// NewClient creates the Telegram bot instance for identity. Creating it calls getMe,
// so an invalid token fails here.
func NewClient(ctx context.Context, identity database.Bot, handler UpdateHandler, log *slog.Logger, opts ...bot.Option) (*Client, error) {
	if identity.Token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	clientLog := log.With("component", "telegram_bot", "bot_id", identity.ID)

	botID := identity.ID
	c := &Client{botID: botID, logger: clientLog}
	options := []bot.Option{
		bot.WithMiddlewares(logger.Middleware(log, botID)),
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, update *models.Update) {
			if handler != nil {
				handler(ctx, botID, update)
			}
		}),
		bot.WithErrorsHandler(c.handleError),
	}
	options = append(options, opts...)

	b, err := newBotWithContext(ctx, identity.Token, options...)
	if err != nil {
		clientLog.ErrorContext(ctx, "Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot %d: %w", identity.ID, err)
	}

	c.bot = b
	clientLog.InfoContext(ctx, "Telegram bot instance created successfully", "token_prefix", tokenPrefix(identity.Token))
	return c, nil
}

// handleError logs library errors and aborts polling on errors retrying cannot fix.
func (c *Client) handleError(err error) {
	c.logger.Warn("Telegram client error", "error", err)

	for _, fatal := range fatalPollErrors {
		if !errors.Is(err, fatal) {
			continue
		}
		c.pollMu.Lock()
		abort := c.abortPoll
		c.pollMu.Unlock()
		if abort != nil {
			c.logger.Error("Aborting long polling", "error", err)
			abort(err)
		}
		return
	}
}

// newBotWithContext gives up waiting on bot.New when ctx ends; bot.New itself uses its own timeout.
func newBotWithContext(ctx context.Context, token string, opts ...bot.Option) (*bot.Bot, error) {
	type result struct {
		b   *bot.Bot
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := bot.New(token, opts...)
		done <- result{b: b, err: err}
	}()

	select {
	case res := <-done:
		return res.b, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetWebhook registers url with an optional secret token.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	ok, err := c.bot.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         url,
		SecretToken: secret,
	})
	if err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	if !ok {
		return errors.New("setWebhook: platform refused the webhook")
	}
	c.logger.InfoContext(ctx, "Webhook registered", "url", url)
	return nil
}

// DeleteWebhook removes any webhook, keeping pending updates.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	if _, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}

// Poll runs the long-polling loop until ctx is cancelled or getUpdates fails
// with an unauthorized, forbidden or conflict response. Cancellation returns nil.
func (c *Client) Poll(ctx context.Context) error {
	pollCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	c.pollMu.Lock()
	c.abortPoll = abort
	c.pollMu.Unlock()
	defer func() {
		c.pollMu.Lock()
		c.abortPoll = nil
		c.pollMu.Unlock()
	}()

	c.logger.InfoContext(ctx, "Starting long polling")
	c.bot.Start(pollCtx)

	if ctx.Err() != nil {
		c.logger.InfoContext(ctx, "Long polling stopped")
		return nil
	}
	cause := context.Cause(pollCtx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = errors.New("polling stopped unexpectedly")
	}
	c.logger.WarnContext(ctx, "Long polling stopped without cancellation", "error", cause)
	return fmt.Errorf("long polling aborted: %w", cause)
}

// Deliver decodes a webhook payload and processes it synchronously.
func (c *Client) Deliver(ctx context.Context, payload []byte) error {
	var update models.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("invalid update payload: %w", err)
	}
	c.bot.ProcessUpdate(ctx, &update)
	return nil
}

// Send posts a plain text message.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		c.logger.ErrorContext(ctx, "Failed to send message", "chat_id", chatID, "error", err)
		return fmt.Errorf("sendMessage to chat %d: %w", chatID, err)
	}
	return nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "..."
	}
	return token[:8] + "..."
}
