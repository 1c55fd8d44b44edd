package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tiongMax/stockwatch/internal/config"
	"github.com/tiongMax/stockwatch/internal/market"
	"github.com/tiongMax/stockwatch/pkg/logger"
)

var configPath string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stockwatch",
		Short: "Stock watchlist bot with price-move alerts",
		Long: `stockwatch keeps a shared watchlist of stock tickers, answers price
queries from Slack slash commands, and posts an alert to the alert channel
whenever a tracked symbol moves more than the threshold since the previous
close.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file. Defaults to $CONFIG_FILE.")

	rootCmd.AddCommand(serveCmd(), watchlistCmd(), sweepCmd(), alertsCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the JSON logger on
// logOut. serve logs to stdout; the one-shot commands log to stderr so
// their stdout stays machine-readable.
func loadConfig(logOut io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger.InitWriter(logOut, cfg.Server.LogLevel), nil
}

// buildProvider returns the configured market-data provider, wrapped in the
// Redis cache when REDIS_ADDR is set. The returned func releases resources.
func buildProvider(ctx context.Context, cfg config.Config, log *slog.Logger) (market.Provider, func(), error) {
	if err := cfg.ValidateMarket(); err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Market.FetchTimeout}
	var provider market.Provider
	switch cfg.Market.Provider {
	case "finnhub":
		provider = market.NewFinnhubProvider(cfg.Market.FinnhubAPIKey, httpClient)
	default:
		provider = market.NewPolygonProvider(cfg.Market.PolygonAPIKey, httpClient)
	}

	closer := func() {}
	if cfg.Redis.Addr != "" {
		log.Info("Connecting to Redis...", "addr", cfg.Redis.Addr)
		client, err := market.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			// The cache is an optimization; run uncached rather than fail.
			log.Warn("Redis unavailable, quotes will not be cached", "error", err)
		} else {
			log.Info("Connected to Redis")
			provider = market.NewCachedProvider(provider, client, cfg.Redis.QuoteTTL, log)
			closer = func() { closeRedis(client, log) }
		}
	}

	log.Info("Market data provider ready", "provider", provider.Name())
	return provider, closer, nil
}

func closeRedis(client *redis.Client, log *slog.Logger) {
	if err := client.Close(); err != nil {
		log.Warn("Error closing Redis client", "error", err)
	}
}

func timeoutContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
