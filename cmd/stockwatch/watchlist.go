package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tiongMax/stockwatch/internal/bot"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

func watchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Inspect or edit the watchlist snapshot file",
		Long: `Operate on the snapshot file directly. Changes made here are not seen by a
running server until it restarts.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Print the tracked symbols",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store := watchlist.NewStore(cfg.WatchlistPath, watchlist.WithLogger(log))
			snap := store.Load()
			if len(snap.Symbols) == 0 {
				printf(cmd, "The watchlist is empty.\n")
				return nil
			}
			printf(cmd, "%s", bot.RenderTable(snap.Symbols))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <symbol>",
		Short: "Resolve and track a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := context.Background()
			provider, closeProvider, err := buildProvider(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeProvider()

			store := watchlist.NewStore(cfg.WatchlistPath, watchlist.WithLogger(log))
			store.Load()

			addCtx, cancel := timeoutContext(ctx, cfg.Market.FetchTimeout)
			defer cancel()
			ts, err := store.Add(addCtx, args[0], provider.ResolveMetadata)
			if err != nil {
				return err
			}
			printf(cmd, "Added %s (%s)\n", ts.Symbol, ts.DisplayName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <symbol>",
		Aliases: []string{"rm"},
		Short:   "Stop tracking a symbol",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store := watchlist.NewStore(cfg.WatchlistPath, watchlist.WithLogger(log))
			store.Load()
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			printf(cmd, "Removed %s\n", watchlist.Normalize(args[0]))
			return nil
		},
	})

	return cmd
}
