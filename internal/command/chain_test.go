package command_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
)

type fakeLookup struct {
	defs map[string]*database.CommandDefinition
	err  error
}

func (f *fakeLookup) Lookup(_ context.Context, _ int64, token string) (*database.CommandDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.defs[token], nil
}

type fakeHandler struct {
	name      string
	priority  int
	available bool
	accepts   func(command.Request) bool
	run       func(command.Request) (command.Response, error)
	calls     atomic.Int32
}

func (h *fakeHandler) Name() string    { return h.name }
func (h *fakeHandler) Priority() int   { return h.priority }
func (h *fakeHandler) Available() bool { return h.available }
func (h *fakeHandler) CanHandle(_ context.Context, req command.Request) bool {
	if h.accepts == nil {
		return true
	}
	return h.accepts(req)
}

func (h *fakeHandler) Execute(_ context.Context, req command.Request) (command.Response, error) {
	h.calls.Add(1)
	if h.run != nil {
		return h.run(req)
	}
	return command.Reply(req, h.name), nil
}

func TestChainLowerPriorityWins(t *testing.T) {
	t.Parallel()

	slow := &fakeHandler{name: "custom", priority: 200, available: true}
	fast := &fakeHandler{name: "plugin", priority: 50, available: true}
	chain := command.NewChain(&fakeLookup{}, nil, slow, fast)

	resp := chain.Route(context.Background(), command.Request{ID: "r1", BotID: 1, Command: "/x"})

	require.True(t, resp.Success)
	assert.Equal(t, "plugin", resp.Text)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, int32(1), fast.calls.Load())
	assert.Equal(t, int32(0), slow.calls.Load())

	names := []string{}
	for _, h := range chain.Handlers() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"plugin", "custom"}, names)
}

func TestChainSkipsUnavailableAndNonMatching(t *testing.T) {
	t.Parallel()

	offline := &fakeHandler{name: "ai", priority: 1, available: false}
	picky := &fakeHandler{name: "admin", priority: 10, available: true, accepts: func(r command.Request) bool {
		return r.Command == "/admin"
	}}
	fallback := &fakeHandler{name: "default", priority: 1000, available: true}
	chain := command.NewChain(&fakeLookup{}, nil, offline, picky, fallback)

	resp := chain.Route(context.Background(), command.Request{Command: "/hello"})
	assert.Equal(t, "default", resp.Text)
	assert.Equal(t, int32(0), offline.calls.Load())
	assert.Equal(t, int32(0), picky.calls.Load())

	resp = chain.Route(context.Background(), command.Request{Command: "/admin"})
	assert.Equal(t, "admin", resp.Text)
}

func TestChainDisabledCommandNeverReachesHandler(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{name: "custom", priority: 200, available: true}
	lookup := &fakeLookup{defs: map[string]*database.CommandDefinition{
		"/off": {ID: 9, Command: "/off", Type: database.CommandCustom, Enabled: false},
	}}
	chain := command.NewChain(lookup, nil, h)

	resp := chain.Route(context.Background(), command.Request{Command: "/off"})
	assert.False(t, resp.Success)
	assert.Equal(t, apperrors.KindCommandDisabled, resp.ErrorKind)
	assert.Equal(t, int64(9), resp.CommandID)
	assert.Equal(t, int32(0), h.calls.Load())
}

func TestChainFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		lookup   *fakeLookup
		handlers []command.Handler
		expected apperrors.Kind
	}{
		{
			name:     "no handler",
			lookup:   &fakeLookup{},
			handlers: []command.Handler{&fakeHandler{name: "off", available: false}},
			expected: apperrors.KindNoHandler,
		},
		{
			name:   "handler error",
			lookup: &fakeLookup{},
			handlers: []command.Handler{&fakeHandler{name: "broken", available: true, run: func(command.Request) (command.Response, error) {
				return command.Response{}, errors.New("kaput")
			}}},
			expected: apperrors.KindCommandError,
		},
		{
			name:   "handler panic",
			lookup: &fakeLookup{},
			handlers: []command.Handler{&fakeHandler{name: "panicky", available: true, run: func(command.Request) (command.Response, error) {
				panic("boom")
			}}},
			expected: apperrors.KindCommandError,
		},
		{
			name:     "lookup failure",
			lookup:   &fakeLookup{err: errors.New("db down")},
			handlers: []command.Handler{&fakeHandler{name: "default", available: true}},
			expected: apperrors.KindCommandError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chain := command.NewChain(tc.lookup, nil, tc.handlers...)
			resp := chain.Route(context.Background(), command.Request{Command: "/x"})
			assert.False(t, resp.Success)
			assert.Equal(t, tc.expected, resp.ErrorKind)
		})
	}
}

func TestParseInput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		token string
		args  []string
	}{
		{name: "empty", input: "   ", token: "", args: nil},
		{name: "plain command", input: "/start", token: "/start", args: []string{}},
		{name: "mixed case with bot suffix", input: "/Start@MyFleetBot now", token: "/start", args: []string{"now"}},
		{name: "plain text", input: "Hello there", token: "hello", args: []string{"there"}},
		{name: "extra whitespace", input: "  /remind   10m  stretch ", token: "/remind", args: []string{"10m", "stretch"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			token, args := command.ParseInput(tc.input)
			assert.Equal(t, tc.token, token)
			assert.Equal(t, tc.args, args)
		})
	}
}
