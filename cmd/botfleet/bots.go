package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgard/botfleet/internal/database"
)

const defaultEventLimit = 20

func newBotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Inspect the persisted bot fleet",
	}
	cmd.AddCommand(newBotsListCmd())
	cmd.AddCommand(newBotsEventsCmd())
	return cmd
}

func newBotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bots with their persisted status",
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

			ctx := cmd.Context()
			bots, err := store.ListBots(ctx)
			if err != nil {
				return fmt.Errorf("failed to list bots: %w", err)
			}
			states := make(map[int64]*database.BotRuntimeState, len(bots))
			for _, b := range bots {
				state, err := store.GetRuntimeState(ctx, b.ID)
				if err != nil {
					return fmt.Errorf("failed to read runtime state of bot %d: %w", b.ID, err)
				}
				states[b.ID] = state
			}
			return writeBotTable(cmd.OutOrStdout(), bots, states)
		},
	}
}

func newBotsEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <bot-id>",
		Short: "Show the lifecycle history of a bot, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid bot id %q: %w", args[0], err)
			}
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			db, store, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer database.CloseDB(db)

			events, err := store.ListBotEvents(cmd.Context(), botID, limit)
			if err != nil {
				return fmt.Errorf("failed to list events of bot %d: %w", botID, err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Event, e.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultEventLimit, "Maximum number of events to show")
	return cmd
}

func writeBotTable(out io.Writer, bots []database.Bot, states map[int64]*database.BotRuntimeState) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tSTATUS\tRUNNING\tLAST ERROR")
	for _, b := range bots {
		running, lastErr := "no", "-"
		if st := states[b.ID]; st != nil {
			if st.IsRunning {
				running = "yes"
			}
			if st.LastError.Valid && st.LastError.String != "" {
				lastErr = st.LastError.String
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.Mode, b.Status, running, lastErr)
	}
	return w.Flush()
}
