// Package plugin runs in-process plugins by name with a bounded timeout and retry budget.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgard/botfleet/internal/command"
	apperrors "github.com/edgard/botfleet/internal/errors"
)

// Plugin is a named unit of work invoked by PLUGIN commands.
type Plugin interface {
	Execute(ctx context.Context, input string, params map[string]string) (string, error)
}

// Func adapts a function to Plugin.
type Func func(ctx context.Context, input string, params map[string]string) (string, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, input string, params map[string]string) (string, error) {
	return f(ctx, input, params)
}

// Stats is a point-in-time copy of a plugin's counters.
type Stats struct {
	Executions   int64
	Successes    int64
	Failures     int64
	Timeouts     int64
	Attempts     int64
	TotalLatency time.Duration
	LastLatency  time.Duration
}

// AverageLatency returns the mean latency per execution.
func (s Stats) AverageLatency() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Executions)
}

type counters struct {
	executions   atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	timeouts     atomic.Int64
	attempts     atomic.Int64
	totalLatency atomic.Int64
	lastLatency  atomic.Int64
}

type entry struct {
	plugin Plugin
	active atomic.Bool
	stats  counters
}

// Gateway owns the registered plugins and their counters.
type Gateway struct {
	mu      sync.RWMutex
	plugins map[string]*entry
	logger  *slog.Logger
}

// NewGateway creates an empty gateway.
func NewGateway(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		plugins: make(map[string]*entry),
		logger:  logger.With("component", "plugin_gateway"),
	}
}

// Register adds an active plugin. Registering a name twice is an error.
func (g *Gateway) Register(name string, p Plugin) error {
	if name == "" || p == nil {
		return fmt.Errorf("plugin registration requires a name and an implementation")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	e := &entry{plugin: p}
	e.active.Store(true)
	g.plugins[name] = e
	return nil
}

// Unregister removes a plugin and its counters.
func (g *Gateway) Unregister(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.plugins[name]
	delete(g.plugins, name)
	return ok
}

// Activate makes a registered plugin available.
func (g *Gateway) Activate(name string) error {
	return g.setActive(name, true)
}

// Deactivate keeps a plugin registered but refuses executions.
func (g *Gateway) Deactivate(name string) error {
	return g.setActive(name, false)
}

func (g *Gateway) setActive(name string, active bool) error {
	e, ok := g.lookup(name)
	if !ok {
		return apperrors.Newf(apperrors.KindPluginNotLoaded, "plugin %s is not registered", name)
	}
	e.active.Store(active)
	return nil
}

// Loaded reports whether the plugin is registered and active.
func (g *Gateway) Loaded(name string) bool {
	e, ok := g.lookup(name)
	return ok && e.active.Load()
}

// Registered reports whether the plugin is registered, active or not.
func (g *Gateway) Registered(name string) bool {
	_, ok := g.lookup(name)
	return ok
}

// Names returns the registered plugin names sorted.
func (g *Gateway) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.plugins))
	for name := range g.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the plugin's counters.
func (g *Gateway) Stats(name string) (Stats, bool) {
	e, ok := g.lookup(name)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Executions:   e.stats.executions.Load(),
		Successes:    e.stats.successes.Load(),
		Failures:     e.stats.failures.Load(),
		Timeouts:     e.stats.timeouts.Load(),
		Attempts:     e.stats.attempts.Load(),
		TotalLatency: time.Duration(e.stats.totalLatency.Load()),
		LastLatency:  time.Duration(e.stats.lastLatency.Load()),
	}, true
}

func (g *Gateway) lookup(name string) (*entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.plugins[name]
	return e, ok
}

var errAttemptTimeout = errors.New("plugin attempt timed out")

// Execute runs the plugin with maxRetries+1 attempts, each bounded by timeout.
func (g *Gateway) Execute(ctx context.Context, name string, req command.Request, timeout time.Duration, maxRetries int) command.Response {
	e, ok := g.lookup(name)
	if !ok || !e.active.Load() {
		return command.Fail(req, apperrors.KindPluginNotLoaded, fmt.Sprintf("plugin %s is not loaded", name))
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	started := time.Now()
	input := req.ArgString()

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		e.stats.attempts.Add(1)

		out, err := runAttempt(ctx, e.plugin, input, req.Params, timeout)
		if err == nil {
			g.record(e, started, true, false)
			resp := command.Reply(req, out)
			resp.ExecutionTime = time.Since(started)
			return resp
		}

		lastErr = err
		g.logger.WarnContext(ctx, "Plugin attempt failed",
			"plugin", name, "attempt", attempt, "max_attempts", maxRetries+1, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	timedOut := errors.Is(lastErr, errAttemptTimeout)
	g.record(e, started, false, timedOut)

	var resp command.Response
	if timedOut {
		resp = command.Fail(req, apperrors.KindPluginTimeout, fmt.Sprintf("plugin %s timed out", name))
	} else {
		resp = command.Fail(req, apperrors.KindPluginExecutionError, fmt.Sprintf("plugin %s failed: %v", name, lastErr))
	}
	resp.ExecutionTime = time.Since(started)
	return resp
}

func (g *Gateway) record(e *entry, started time.Time, success, timedOut bool) {
	latency := time.Since(started)
	e.stats.executions.Add(1)
	e.stats.totalLatency.Add(int64(latency))
	e.stats.lastLatency.Store(int64(latency))
	switch {
	case success:
		e.stats.successes.Add(1)
	case timedOut:
		e.stats.failures.Add(1)
		e.stats.timeouts.Add(1)
	default:
		e.stats.failures.Add(1)
	}
}

type attemptResult struct {
	out string
	err error
}

// runAttempt bounds one call by timeout even if the plugin ignores its context.
func runAttempt(ctx context.Context, p Plugin, input string, params map[string]string, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("plugin panicked: %v", r)}
			}
		}()
		out, err := p.Execute(attemptCtx, input, params)
		done <- attemptResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", errAttemptTimeout
		}
		return res.out, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errAttemptTimeout
	}
}
