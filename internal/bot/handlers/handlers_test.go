package handlers_test

import (
	"context"
	"database/sql"
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
	"github.com/edgard/botfleet/internal/bot/handlers"
	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/gemini"
	"github.com/edgard/botfleet/internal/permission"
	"github.com/edgard/botfleet/internal/plugin"
	"github.com/edgard/botfleet/internal/session"
)

const (
	testBotID = int64(7)
	ownerID   = int64(1)
	adminID   = int64(2)
	modID     = int64(3)
	userID    = int64(10)
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeGemini struct {
	mu   sync.Mutex
	reqs []gemini.Request
	out  string
	err  error
}

func (f *fakeGemini) Generate(_ context.Context, req gemini.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

type scheduledJob struct {
	botID int64
	name  string
	spec  string
	at    time.Time
	fn    func(ctx context.Context)
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (f *fakeJobs) ScheduleCron(botID int64, name, spec string, fn func(ctx context.Context)) (string, error) {
	if spec == "bad bad bad bad bad" {
		return "", errors.New("invalid cron")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduledJob{botID: botID, name: name, spec: spec, fn: fn})
	return fmt.Sprintf("job-%d", len(f.jobs)), nil
}

func (f *fakeJobs) ScheduleOnce(botID int64, name string, at time.Time, fn func(ctx context.Context)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduledJob{botID: botID, name: name, at: at, fn: fn})
	return fmt.Sprintf("job-%d", len(f.jobs)), nil
}

func (f *fakeJobs) RemoveBotJobs(botID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.jobs[:0]
	removed := 0
	for _, j := range f.jobs {
		if j.botID == botID {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	f.jobs = kept
	return removed
}

func (f *fakeJobs) ListBotJobs(botID int64) []bot.JobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bot.JobInfo
	for i, j := range f.jobs {
		if j.botID == botID {
			out = append(out, bot.JobInfo{ID: fmt.Sprintf("job-%d", i+1), Name: j.name})
		}
	}
	return out
}

func (f *fakeJobs) last() scheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[len(f.jobs)-1]
}

// fakeAdapter records messages sent through a bot session.
type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Identity() int64                        { return testBotID }
func (a *fakeAdapter) Mode() database.ConnectionMode          { return database.ModePull }
func (a *fakeAdapter) Close(context.Context) error            { return nil }
func (a *fakeAdapter) Healthy() bool                          { return true }
func (a *fakeAdapter) Err() error                             { return nil }
func (a *fakeAdapter) Handler(int64) (session.Adapter, error) { return a, nil }

func (a *fakeAdapter) Send(_ context.Context, chatID int64, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, fmt.Sprintf("%d:%s", chatID, text))
	return nil
}

func (a *fakeAdapter) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

type fakeBots struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeBots) record(action string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, fmt.Sprintf("%s:%d", action, id))
}

func (f *fakeBots) StartBot(_ context.Context, id int64) (*database.Bot, error) {
	f.record("start", id)
	return &database.Bot{ID: id, Status: database.StatusRunning}, nil
}

func (f *fakeBots) StopBot(_ context.Context, id int64) error {
	f.record("stop", id)
	return nil
}

func (f *fakeBots) RestartBot(_ context.Context, id int64) (*database.Bot, error) {
	f.record("restart", id)
	return &database.Bot{ID: id, Status: database.StatusRunning}, nil
}

func (f *fakeBots) Status(_ context.Context, id int64) (*bot.StatusReport, error) {
	if id != testBotID {
		return nil, apperrors.Newf(apperrors.KindBotNotOperational, "bot %d does not exist", id)
	}
	state := &database.BotRuntimeState{
		BotID:     id,
		IsRunning: true,
		LastError: sql.NullString{String: "earlier failure", Valid: true},
	}
	return &bot.StatusReport{
		Bot:   database.Bot{ID: id, Name: "support", Mode: database.ModePull, Status: database.StatusRunning},
		State: state,
	}, nil
}

func (f *fakeBots) List(ctx context.Context) ([]bot.StatusReport, error) {
	report, _ := f.Status(ctx, testBotID)
	return []bot.StatusReport{*report}, nil
}

func (f *fakeBots) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

type fixture struct {
	store   database.Store
	plugins *plugin.Gateway
	gemini  *fakeGemini
	jobs    *fakeJobs
	session *fakeAdapter
	bots    *fakeBots
	deps    handlers.HandlerDeps
	chain   *command.Chain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "botfleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, discard)

	require.NoError(t, store.SetUserRole(ctx, testBotID, adminID, permission.RoleAdmin.String()))
	require.NoError(t, store.SetUserRole(ctx, testBotID, modID, permission.RoleModerator.String()))

	plugins := plugin.NewGateway(discard)
	require.NoError(t, plugin.RegisterBuiltins(plugins))

	cache := command.NewCache(store)
	resolver := command.NewResolver(store, cache)

	f := &fixture{
		store:   store,
		plugins: plugins,
		gemini:  &fakeGemini{out: "generated"},
		jobs:    &fakeJobs{},
		session: &fakeAdapter{},
		bots:    &fakeBots{},
	}
	f.deps = handlers.HandlerDeps{
		Logger: discard,
		Config: &config.Config{
			Plugins:  config.PluginsConfig{DefaultTimeout: time.Second},
			Messages: config.MessagesConfig{
				Welcome:    "Welcome, {username}!",
				HelpHeader: "Commands:",
				AIError:    "The AI is unavailable.",
			},
		},
		Store:    store,
		Resolver: resolver,
		Cache:    cache,
		Gate:     permission.NewGate(store, []int64{ownerID}, discard),
		Plugins:  plugins,
		Gemini:   f.gemini,
		Bots:     f.bots,
		Jobs:     f.jobs,
		Sessions: f.session,
	}
	f.chain = command.NewChain(resolver, discard, handlers.RegisterAllHandlers(f.deps)...)
	return f
}

func (f *fixture) saveCommand(t *testing.T, token string, typ database.CommandType, template string) {
	t.Helper()
	require.NoError(t, f.store.SaveCommand(context.Background(), &database.CommandDefinition{
		BotID:            sql.NullInt64{Int64: testBotID, Valid: true},
		Command:          token,
		Type:             typ,
		Trigger:          database.TriggerCommand,
		Priority:         100,
		Enabled:          true,
		ResponseTemplate: template,
	}))
}

func (f *fixture) route(user int64, text string) command.Response {
	token, args := command.ParseInput(text)
	return f.chain.Route(context.Background(), command.Request{
		ID:         "req",
		BotID:      testBotID,
		UserID:     user,
		Username:   "alice",
		ChatID:     500,
		Command:    token,
		Input:      text,
		Args:       args,
		ReceivedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	})
}

func TestRegisterAllHandlersPriorities(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var names []string
	for _, h := range f.chain.Handlers() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"schedule", "reminder", "admin", "moderator", "plugin", "ai", "custom", "default"}, names)
}

func TestTypedHandlersRejectDisabledAndAbsentDefinitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		token   string
		typ     database.CommandType
		handler func(handlers.HandlerDeps) command.Handler
	}{
		{name: "schedule", token: "/daily", typ: database.CommandSchedule, handler: handlers.NewScheduleHandler},
		{name: "reminder", token: "/remind", typ: database.CommandReminder, handler: handlers.NewReminderHandler},
		{name: "plugin", token: "/weather", typ: database.CommandPlugin, handler: handlers.NewPluginHandler},
		{name: "ai", token: "/ask", typ: database.CommandAIAnswer, handler: handlers.NewAIHandler},
		{name: "custom", token: "/rules", typ: database.CommandCustom, handler: handlers.NewCustomHandler},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t)
			h := tc.handler(f.deps)
			req := command.Request{ID: "req", BotID: testBotID, UserID: userID, ChatID: 500, Command: tc.token}

			assert.False(t, h.CanHandle(ctx, req), "absent definition")

			f.saveCommand(t, tc.token, tc.typ, "text")
			assert.True(t, h.CanHandle(ctx, req), "enabled definition")

			require.NoError(t, f.store.SetCommandEnabled(ctx, testBotID, tc.token, false))
			assert.False(t, h.CanHandle(ctx, req), "disabled definition")

			require.NoError(t, f.deps.Cache.Load(ctx, testBotID))
			assert.False(t, h.CanHandle(ctx, req), "disabled definition from cache")
		})
	}
}

func TestPluginHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.route(userID, "/echo hello there")
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, "hello there", resp.Text)

	resp = f.route(userID, "/echo")
	assert.False(t, resp.Success)
	assert.Equal(t, apperrors.KindPluginExecutionError, resp.ErrorKind)

	require.NoError(t, f.store.SetPluginActive(context.Background(), "echo", false))
	resp = f.route(userID, "/echo hi")
	assert.Equal(t, apperrors.KindPluginNotLoaded, resp.ErrorKind)

	f.saveCommand(t, "/shout", database.CommandPlugin, "<<{result}>>")
	resp = f.route(userID, "/shout loud")
	assert.Equal(t, apperrors.KindPluginNotLoaded, resp.ErrorKind, "no plugin named shout")

	require.NoError(t, f.plugins.Register("shout", plugin.Func(func(_ context.Context, input string, _ map[string]string) (string, error) {
		return input + "!", nil
	})))
	resp = f.route(userID, "/shout loud")
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, "<<loud!>>", resp.Text)
}

func TestCustomHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveCommand(t, "/hello", database.CommandCustom, "Hi {username} ({user_id}), you said {args}; first {arg1} on {date}")

	resp := f.route(userID, "/hello big world")
	require.True(t, resp.Success)
	assert.Equal(t, "Hi alice (10), you said big world; first big on 2024-05-01", resp.Text)
}

func TestAIHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveCommand(t, "/ask", database.CommandAIAnswer, "Be brief.")

	resp := f.route(userID, "/ask why is the sky blue")
	require.True(t, resp.Success)
	assert.Equal(t, "generated", resp.Text)
	require.Len(t, f.gemini.reqs, 1)
	assert.Equal(t, database.CommandAIAnswer, f.gemini.reqs[0].Type)
	assert.Equal(t, "Be brief.", f.gemini.reqs[0].Instruction)
	assert.Equal(t, "why is the sky blue", f.gemini.reqs[0].Prompt)

	resp = f.route(userID, "/ask")
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Text, "Usage")

	f.gemini.err = errors.New("quota exceeded")
	resp = f.route(userID, "/ask again")
	assert.False(t, resp.Success)
	assert.Equal(t, apperrors.KindCommandError, resp.ErrorKind)
	assert.Equal(t, "The AI is unavailable.", resp.Text)
}

func TestAIHandlerUnavailableWithoutClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveCommand(t, "/ask", database.CommandAIAnswer, "")
	deps := f.deps
	deps.Gemini = nil
	chain := command.NewChain(deps.Resolver, discard, handlers.RegisterAllHandlers(deps)...)

	resp := chain.Route(context.Background(), command.Request{BotID: testBotID, UserID: userID, Command: "/ask", Args: []string{"q"}})
	assert.Equal(t, apperrors.KindCommandNotFound, resp.ErrorKind)
}

func TestScheduleHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveCommand(t, "/daily", database.CommandSchedule, "")

	resp := f.route(userID, "/daily 0 9 * * 1-5 good morning team")
	require.True(t, resp.Success)
	assert.Contains(t, resp.Text, "job-1")

	job := f.jobs.last()
	assert.Equal(t, testBotID, job.botID)
	assert.Equal(t, "0 9 * * 1-5", job.spec)

	job.fn(context.Background())
	assert.Equal(t, []string{"500:good morning team"}, f.session.messages())

	resp = f.route(userID, "/daily list")
	assert.Contains(t, resp.Text, "job-1")

	resp = f.route(userID, "/daily bad bad bad bad bad hello")
	assert.Contains(t, resp.Text, "Invalid schedule")

	resp = f.route(userID, "/daily 0 9 *")
	assert.Contains(t, resp.Text, "Usage")

	resp = f.route(userID, "/daily clear")
	assert.Equal(t, "Removed 1 scheduled job(s).", resp.Text)

	resp = f.route(userID, "/daily list")
	assert.Equal(t, "No scheduled jobs.", resp.Text)
}

func TestReminderHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saveCommand(t, "/remind", database.CommandReminder, "")

	before := time.Now()
	resp := f.route(userID, "/remind 10m stretch your legs")
	require.True(t, resp.Success)
	assert.Contains(t, resp.Text, "10m0s")

	job := f.jobs.last()
	assert.WithinDuration(t, before.Add(10*time.Minute), job.at, 5*time.Second)

	job.fn(context.Background())
	assert.Equal(t, []string{"500:Reminder: stretch your legs"}, f.session.messages())

	testCases := []struct {
		name string
		text string
	}{
		{name: "missing text", text: "/remind 10m"},
		{name: "bad duration", text: "/remind soon stretch"},
		{name: "negative duration", text: "/remind -5m stretch"},
		{name: "too far", text: "/remind 10000h stretch"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.route(userID, tc.text)
			assert.True(t, resp.Success)
			assert.Contains(t, resp.Text, "Usage")
		})
	}
}

func TestDefaultHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	resp := f.route(userID, "/start")
	assert.Equal(t, "Welcome, alice!", resp.Text)

	require.NoError(t, f.store.SetSetting(ctx, testBotID, handlers.WelcomeSettingKey, "Hello from bot {bot_id}"))
	resp = f.route(userID, "/start")
	assert.Equal(t, "Hello from bot 7", resp.Text)

	resp = f.route(userID, "/help")
	assert.Contains(t, resp.Text, "Commands:")
	assert.Contains(t, resp.Text, "/echo - Echo the arguments back")
	assert.Contains(t, resp.Text, "/time")

	require.NoError(t, f.store.SetCommandAccess(ctx, testBotID, userID, "/echo", false))
	resp = f.route(userID, "/help")
	assert.NotContains(t, resp.Text, "/echo")
	assert.Contains(t, resp.Text, "/time")

	resp = f.route(userID, "/nosuch")
	assert.False(t, resp.Success)
	assert.Equal(t, apperrors.KindCommandNotFound, resp.ErrorKind)

	resp = f.route(userID, "just chatting")
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Text)
}

func TestAdminRequiresRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	testCases := []struct {
		name    string
		user    int64
		text    string
		allowed bool
	}{
		{name: "user on admin", user: userID, text: "/admin role list"},
		{name: "moderator on admin", user: modID, text: "/admin role list"},
		{name: "user on mod", user: userID, text: "/mod role list"},
		{name: "admin on admin", user: adminID, text: "/admin role list", allowed: true},
		{name: "owner on admin", user: ownerID, text: "/admin role list", allowed: true},
		{name: "moderator on mod", user: modID, text: "/mod role list", allowed: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.route(tc.user, tc.text)
			if tc.allowed {
				assert.True(t, resp.Success, resp.ErrorMessage)
				return
			}
			assert.Equal(t, apperrors.KindForbidden, resp.ErrorKind)
		})
	}
}

func TestAdminUsage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, text := range []string{"/admin", "/admin role", "/admin nothing here", "/admin role set 5", "/admin role get notanumber", "/admin commands explode /echo"} {
		resp := f.route(adminID, text)
		assert.True(t, resp.Success, text)
		assert.Contains(t, resp.Text, "Usage: /admin", text)
	}

	resp := f.route(modID, "/mod role set 10 ADMIN")
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Text, "Moderators cannot use role set")
}

func TestAdminRoles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.route(adminID, "/admin role set 42 moderator")
	assert.Equal(t, "User 42 is now MODERATOR.", resp.Text)

	resp = f.route(adminID, "/admin role get 42")
	assert.Equal(t, "User 42: MODERATOR", resp.Text)

	resp = f.route(adminID, "/admin role set 42 owner")
	assert.Equal(t, "Owners are set in the configuration file.", resp.Text)

	resp = f.route(adminID, "/admin role set 42 emperor")
	assert.Contains(t, resp.Text, "Unknown role")

	resp = f.route(modID, "/mod role list")
	assert.Contains(t, resp.Text, "42 MODERATOR")
}

func TestAdminCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.route(adminID, "/admin commands get echo")
	assert.Contains(t, resp.Text, "Type: PLUGIN")
	assert.Contains(t, resp.Text, "Scope: global")

	resp = f.route(adminID, "/admin commands deactivate /echo")
	assert.Equal(t, "Command /echo disabled.", resp.Text)

	resp = f.route(userID, "/echo hi")
	assert.Equal(t, apperrors.KindCommandDisabled, resp.ErrorKind)

	resp = f.route(adminID, "/admin commands list")
	assert.Contains(t, resp.Text, "/echo PLUGIN disabled (bot)")
	assert.Contains(t, resp.Text, "/echo PLUGIN enabled (global)")

	resp = f.route(adminID, "/admin commands delete /echo")
	assert.Equal(t, "Command /echo deleted.", resp.Text)

	resp = f.route(userID, "/echo hi")
	assert.Equal(t, "hi", resp.Text)

	resp = f.route(adminID, "/admin commands delete /echo")
	assert.Contains(t, resp.Text, "no definition for this bot")

	resp = f.route(adminID, "/admin commands activate /missing")
	assert.Equal(t, "Command /missing not found.", resp.Text)

	resp = f.route(modID, "/mod commands disallow 10 /time")
	assert.Equal(t, "User 10 may no longer use /time.", resp.Text)

	rules, err := f.store.ListCommandAccess(context.Background(), testBotID, userID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"/time": false}, rules)
}

func TestAdminPlugins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.route(userID, "/echo ping")

	resp := f.route(adminID, "/admin plugin get echo")
	assert.Contains(t, resp.Text, "Status: active")
	assert.Contains(t, resp.Text, "Executions: 1 (ok 1, failed 0, timeouts 0)")

	resp = f.route(adminID, "/admin plugin deactivate echo")
	assert.Equal(t, "Plugin echo inactive.", resp.Text)
	assert.False(t, f.plugins.Loaded("echo"))
	assert.Equal(t, apperrors.KindPluginNotLoaded, f.route(userID, "/echo ping").ErrorKind)

	resp = f.route(adminID, "/admin plugin activate echo")
	assert.Equal(t, "Plugin echo active.", resp.Text)
	assert.True(t, f.plugins.Loaded("echo"))

	resp = f.route(modID, "/mod plugin list")
	assert.Contains(t, resp.Text, "echo active loaded=true")
	assert.Contains(t, resp.Text, "time active loaded=true")

	resp = f.route(adminID, "/admin plugin compile weather")
	assert.Contains(t, resp.Text, "compiled outside the bot")

	resp = f.route(adminID, "/admin plugin load weather")
	assert.Equal(t, "Plugin weather not found.", resp.Text)

	resp = f.route(adminID, "/admin plugin delete time")
	assert.Equal(t, "Plugin time deleted.", resp.Text)
	assert.False(t, f.plugins.Loaded("time"))
}

func TestAdminConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.route(adminID, "/admin config set welcome Hello there")
	assert.Equal(t, "welcome = Hello there", resp.Text)

	resp = f.route(modID, "/mod config get welcome")
	assert.Equal(t, "welcome = Hello there", resp.Text)

	resp = f.route(adminID, "/admin config list")
	assert.Contains(t, resp.Text, "welcome = Hello there")

	resp = f.route(adminID, "/admin config delete welcome")
	assert.Equal(t, "Setting welcome deleted.", resp.Text)

	resp = f.route(adminID, "/admin config get welcome")
	assert.Equal(t, "Setting welcome is not set.", resp.Text)
}

func TestAdminBots(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.route(adminID, "/admin bot get")
	assert.Contains(t, resp.Text, "Bot 7 (support)")
	assert.Contains(t, resp.Text, "Last error: earlier failure")

	resp = f.route(modID, "/mod bot list")
	assert.Contains(t, resp.Text, "7 support PULL RUNNING")

	resp = f.route(adminID, "/admin bot activate 8")
	assert.Equal(t, "Only owners can control other bots.", resp.Text)

	resp = f.route(ownerID, "/admin bot activate 8")
	assert.Equal(t, "Bot 8: activate done.", resp.Text)

	resp = f.route(ownerID, "/admin bot load 9")
	assert.Equal(t, "Bot 9: load done.", resp.Text)

	resp = f.route(adminID, "/admin bot deactivate 7")
	assert.Equal(t, "Bot 7: deactivate requested.", resp.Text)
	assert.Eventually(t, func() bool {
		for _, a := range f.bots.snapshot() {
			if a == "stop:7" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"start:8", "restart:9", "stop:7"}, f.bots.snapshot())

	resp = f.route(adminID, "/admin bot get 99")
	assert.Equal(t, apperrors.KindCommandError, resp.ErrorKind)
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	req := command.Request{
		BotID:      3,
		UserID:     4,
		ChatID:     5,
		Username:   "bob",
		Command:    "/greet",
		Args:       []string{"a", "b"},
		ReceivedAt: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC),
	}

	testCases := []struct {
		name  string
		tmpl  string
		extra map[string]string
		want  string
	}{
		{name: "no placeholders", tmpl: "plain", want: "plain"},
		{name: "identity", tmpl: "{username}/{user_id}/{chat_id}/{bot_id}", want: "bob/4/5/3"},
		{name: "args", tmpl: "{command} {args} {arg2} {arg1} {arg3}", want: "/greet a b b a {arg3}"},
		{name: "time", tmpl: "{date} {time}", want: "2024-01-02 03:04"},
		{name: "extra", tmpl: "[{result}]", extra: map[string]string{"result": "ok"}, want: "[ok]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, handlers.RenderTemplate(tc.tmpl, req, tc.extra))
		})
	}
}
