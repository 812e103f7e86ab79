package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed configured bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			db, store, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer database.CloseDB(db)

			if err := bot.SeedBots(cmd.Context(), store, cfg.Bots); err != nil {
				return fmt.Errorf("failed to seed bots: %w", err)
			}
			version, dirty, err := database.SchemaVersion(db, cfg.Database.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t), %d configured bots seeded\n", version, dirty, len(cfg.Bots))
			log.Info("Database is up to date", "path", cfg.Database.Path, "schema_version", version, "bots", len(cfg.Bots))
			return nil
		},
	}
}
