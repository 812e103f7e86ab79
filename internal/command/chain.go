package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
)

// Lookuper finds the authoritative definition for a token, disabled ones included.
type Lookuper interface {
	Lookup(ctx context.Context, botID int64, token string) (*database.CommandDefinition, error)
}

// Chain routes a request to the first available handler that accepts it.
type Chain struct {
	lookup   Lookuper
	handlers []Handler
	logger   *slog.Logger
}

// NewChain sorts handlers by ascending priority once; equal priorities keep their given order.
func NewChain(lookup Lookuper, logger *slog.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sorted := make([]Handler, len(handlers))
	copy(sorted, handlers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Chain{
		lookup:   lookup,
		handlers: sorted,
		logger:   logger.With("component", "command_chain"),
	}
}

// Handlers returns the handlers in routing order.
func (c *Chain) Handlers() []Handler {
	out := make([]Handler, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// Route resolves the request and runs it through the chain. It never returns an error:
// every failure is reported in the Response.
func (c *Chain) Route(ctx context.Context, req Request) Response {
	started := time.Now()
	resp := c.route(ctx, req)
	resp.ExecutionTime = time.Since(started)
	return resp
}

func (c *Chain) route(ctx context.Context, req Request) Response {
	def, err := c.lookup.Lookup(ctx, req.BotID, req.Command)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to look up command",
			"bot_id", req.BotID, "command", req.Command, "request_id", req.ID, "error", err)
		return Fail(req, apperrors.KindCommandError, "failed to resolve command")
	}

	if def != nil {
		req.CommandID = def.ID
		if !def.Enabled {
			c.logger.DebugContext(ctx, "Command is disabled", "bot_id", req.BotID, "command", req.Command)
			return Fail(req, apperrors.KindCommandDisabled, fmt.Sprintf("command %s is disabled", req.Command))
		}
	}

	for _, h := range c.handlers {
		if !h.Available() {
			continue
		}
		if !c.canHandle(ctx, h, req) {
			continue
		}

		c.logger.DebugContext(ctx, "Routing request",
			"handler", h.Name(), "bot_id", req.BotID, "command", req.Command, "request_id", req.ID)
		return c.execute(ctx, h, req)
	}

	c.logger.WarnContext(ctx, "No handler accepted request", "bot_id", req.BotID, "command", req.Command)
	return Fail(req, apperrors.KindNoHandler, "no handler available for this request")
}

func (c *Chain) canHandle(ctx context.Context, h Handler, req Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "Handler panicked in CanHandle", "handler", h.Name(), "panic", r)
			ok = false
		}
	}()
	return h.CanHandle(ctx, req)
}

func (c *Chain) execute(ctx context.Context, h Handler, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "Handler panicked",
				"handler", h.Name(), "bot_id", req.BotID, "command", req.Command, "panic", r)
			resp = Fail(req, apperrors.KindCommandError, fmt.Sprintf("handler %s failed", h.Name()))
		}
	}()

	resp, err := h.Execute(ctx, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Handler returned error",
			"handler", h.Name(), "bot_id", req.BotID, "command", req.Command, "error", err)
		return Fail(req, apperrors.KindCommandError, err.Error())
	}

	if resp.RequestID == "" {
		resp.RequestID = req.ID
	}
	if resp.CommandID == 0 {
		resp.CommandID = req.CommandID
	}
	resp.BotID, resp.UserID, resp.ChatID = req.BotID, req.UserID, req.ChatID
	return resp
}
