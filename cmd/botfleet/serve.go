package main

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/bot/handlers"
	"github.com/edgard/botfleet/internal/bot/tasks"
	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/gemini"
	"github.com/edgard/botfleet/internal/permission"
	"github.com/edgard/botfleet/internal/plugin"
	"github.com/edgard/botfleet/internal/session"
	"github.com/edgard/botfleet/internal/telegram"
	"github.com/edgard/botfleet/internal/webhook"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot fleet until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("Starting application...")

	db, store, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)

	if err := bot.SeedBots(ctx, store, cfg.Bots); err != nil {
		log.Error("Failed to seed bots", "error", err)
		return err
	}

	cache := command.NewCache(store)
	resolver := command.NewResolver(store, cache)
	gate := permission.NewGate(store, cfg.Telegram.OwnerIDs, log)

	plugins := plugin.NewGateway(log)
	if err := plugin.RegisterBuiltins(plugins); err != nil {
		log.Error("Failed to register builtin plugins", "error", err)
		return err
	}
	if err := syncPlugins(ctx, store, plugins, log); err != nil {
		return err
	}

	var generator gemini.Client
	if cfg.Gemini.APIKey != "" {
		generator, err = gemini.NewClient(ctx, cfg.Gemini, log)
		if err != nil {
			log.Error("Failed to create Gemini client", "error", err)
			return err
		}
	} else {
		log.Warn("Gemini API key not set, AI commands are disabled")
	}

	// The factory is built before the dispatcher that consumes its updates.
	var dispatcher *bot.Dispatcher
	factory := telegram.NewClientFactory(func(ctx context.Context, botID int64, update *models.Update) {
		opCtx, cancel := context.WithTimeout(ctx, cfg.Lifecycle.OperationTimeout)
		defer cancel()
		dispatcher.HandleUpdate(opCtx, botID, update)
	}, log)

	registry := session.NewRegistry(factory, session.Options{
		PublicBaseURL: cfg.Webhook.PublicBaseURL,
		SecretToken:   cfg.Webhook.SecretToken,
		CloseTimeout:  cfg.Lifecycle.CloseTimeout,
	}, log)

	scheduler, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Sessions: registry,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return err
	}

	lifecycle := bot.NewLifecycle(store, registry, cache, scheduler, cfg.Lifecycle.RestartSettleDelay, log)

	deps := handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Resolver: resolver,
		Cache:    cache,
		Gate:     gate,
		Plugins:  plugins,
		Gemini:   generator,
		Bots:     lifecycle,
		Jobs:     scheduler,
		Sessions: registry,
	}
	chain := command.NewChain(resolver, log, handlers.RegisterAllHandlers(deps)...)
	dispatcher = bot.NewDispatcher(chain, gate, registry, cfg.Messages, log)

	var server bot.HTTPServer
	if cfg.Webhook.ListenAddr != "" {
		server = webhook.NewServer(cfg.Webhook.ListenAddr, registry, cfg.Webhook.SecretToken, cfg.Webhook.ReadTimeout, log)
	}

	app := bot.NewBot(log, cfg, lifecycle, scheduler, server)
	if err := app.Run(ctx); err != nil {
		log.Error("Application error", "error", err)
		return err
	}

	log.Info("Application stopped")
	return nil
}

// syncPlugins deactivates registered plugins whose stored configuration is inactive.
func syncPlugins(ctx context.Context, store database.Store, plugins *plugin.Gateway, log *slog.Logger) error {
	configs, err := store.ListPlugins(ctx)
	if err != nil {
		log.Error("Failed to list plugin configurations", "error", err)
		return err
	}
	for _, pc := range configs {
		if pc.Active || !plugins.Registered(pc.Name) {
			continue
		}
		if err := plugins.Deactivate(pc.Name); err != nil {
			return err
		}
		log.Info("Plugin deactivated from stored configuration", "plugin", pc.Name)
	}
	return nil
}
