package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
)

// HTTPServer is the inbound webhook server run next to the fleet.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Bot runs the fleet: the scheduler, the webhook server and every bot session.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	lifecycle *Lifecycle
	scheduler *Scheduler
	server    HTTPServer
}

// NewBot creates the fleet orchestrator. server may be nil when no bot uses push mode.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	lifecycle *Lifecycle,
	scheduler *Scheduler,
	server HTTPServer,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		lifecycle: lifecycle,
		scheduler: scheduler,
		server:    server,
	}
}

// Run starts every component and blocks until ctx is cancelled or a component fails.
// On the way out every live session is suspended so the next run resumes it.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if b.server != nil {
		g.Go(func() error {
			b.logger.Info("Starting webhook server...", "listen_addr", b.cfg.Webhook.ListenAddr)
			if err := b.server.ListenAndServe(); err != nil {
				b.logger.Error("Webhook server stopped with error", "error", err)
				return fmt.Errorf("webhook server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), b.cfg.Webhook.ShutdownTimeout)
			defer cancel()
			if err := b.server.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("Error shutting down webhook server", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := b.lifecycle.ReconcileStartup(gCtx); err != nil {
			b.logger.Warn("Some bots could not be resumed", "error", err)
		}
		b.autoStart(gCtx)

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, suspending bots...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout())
		defer cancel()
		if err := b.lifecycle.ReconcileShutdown(shutdownCtx); err != nil {
			b.logger.Error("Error suspending bots", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

func (b *Bot) autoStart(ctx context.Context) {
	for _, bc := range b.cfg.Bots {
		if !bc.AutoStart {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := b.lifecycle.StartBot(ctx, bc.ID); err != nil {
			b.logger.Error("Failed to auto-start bot", "bot_id", bc.ID, "error", err)
		}
	}
}

func (b *Bot) shutdownTimeout() time.Duration {
	timeout := b.cfg.Lifecycle.CloseTimeout * time.Duration(len(b.cfg.Bots)+1)
	if timeout < b.cfg.Webhook.ShutdownTimeout {
		timeout = b.cfg.Webhook.ShutdownTimeout
	}
	if timeout <= 0 {
		timeout = config.DefaultCloseTimeout
	}
	return timeout
}

// SeedBots upserts the bots declared in the config file. Existing rows keep their
// persisted status.
func SeedBots(ctx context.Context, store database.Store, bots []config.BotConfig) error {
	for _, bc := range bots {
		mode := database.ConnectionMode(bc.Mode)
		if mode == "" {
			mode = database.ModePull
		}
		name := bc.Name
		if name == "" {
			name = fmt.Sprintf("bot-%d", bc.ID)
		}
		if err := store.UpsertBot(ctx, &database.Bot{
			ID:         bc.ID,
			Name:       name,
			Token:      bc.Token,
			Mode:       mode,
			WebhookURL: bc.WebhookURL,
			Status:     database.StatusStopped,
		}); err != nil {
			return fmt.Errorf("failed to seed bot %d: %w", bc.ID, err)
		}
	}
	return nil
}
