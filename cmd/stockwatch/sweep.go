package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"github.com/tiongMax/stockwatch/internal/alert"
	"github.com/tiongMax/stockwatch/internal/notify"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

func sweepCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one alert sweep now and print the alerts without posting them",
		Args:  cobra.NoArgs,
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

			scheduler := alert.NewScheduler(alert.Config{
				Threshold:    cfg.Alerts.Threshold,
				FetchTimeout: cfg.Market.FetchTimeout,
			}, store, provider, nil, log)

			res, err := scheduler.Sweep(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return writeAlertsJSON(cmd.OutOrStdout(), res.Alerts)
			}
			for _, a := range res.Alerts {
				printf(cmd, "%s\n", notify.FormatAlert(a))
			}
			printf(cmd, "%d symbols checked, %d alerts, %d skipped, %d failures in %s\n",
				res.Symbols, len(res.Alerts), res.Skipped, res.Failures, res.Elapsed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print alerts as JSON.")
	return cmd
}

// writeAlertsJSON prints alerts as an indented JSON array, "[]" when empty.
func writeAlertsJSON(w io.Writer, alerts []alert.PriceAlert) error {
	if alerts == nil {
		alerts = []alert.PriceAlert{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(alerts)
}
