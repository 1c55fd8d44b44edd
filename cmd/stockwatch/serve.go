package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tiongMax/stockwatch/internal/alert"
	"github.com/tiongMax/stockwatch/internal/gateway"
	"github.com/tiongMax/stockwatch/internal/notify"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

func serveCmd() *cobra.Command {
	var promptToken bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the slash-command server and the alert scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if promptToken && cfg.Slack.BotToken == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Slack bot token: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				cfg.Slack.BotToken = strings.TrimSpace(line)
			}

			if err := cfg.Validate(); err != nil {
				log.Error("Invalid configuration", "error", err)
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// 1. Credential check
			slack := notify.NewSlackClient(cfg.Slack.BotToken, nil)
			authCtx, authCancel := timeoutContext(ctx, 10*time.Second)
			info, err := slack.AuthTest(authCtx)
			authCancel()
			if err != nil {
				log.Error("Slack credential check failed", "error", err)
				return err
			}
			log.Info("Authenticated with Slack", "team", info.Team, "user", info.User)

			// 2. Market data
			provider, closeProvider, err := buildProvider(ctx, cfg, log)
			if err != nil {
				log.Error("Market data provider unavailable", "error", err)
				return err
			}
			defer closeProvider()

			// 3. Watchlist
			store := watchlist.NewStore(cfg.WatchlistPath, watchlist.WithLogger(log))
			snap := store.Load()
			log.Info("Watchlist loaded", "path", store.Path(), "symbols", len(snap.Symbols))

			// 4. Alert fan-out
			bus := notify.NewBus(30*time.Second, log)
			if err := bus.Register(notify.NewSlackSink(slack, cfg.Slack.AlertChannel)); err != nil {
				return err
			}
			hub := notify.NewHub(log, cfg.Server.StreamOrigins...)
			if err := bus.Register(hub); err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) > 0 {
				producer, err := notify.NewKafkaProducer(cfg.Kafka.Brokers)
				if err != nil {
					log.Error("Failed to connect to Kafka", "error", err)
					return err
				}
				sink := notify.NewKafkaSink(producer, cfg.Kafka.AlertTopic, log)
				defer func() {
					if err := sink.Close(); err != nil {
						log.Warn("Error closing Kafka producer", "error", err)
					}
				}()
				if err := bus.Register(sink); err != nil {
					return err
				}
			}

			// 5. Scheduler
			scheduler := alert.NewScheduler(alert.Config{
				Interval:     cfg.Alerts.Interval,
				Threshold:    cfg.Alerts.Threshold,
				FetchTimeout: cfg.Market.FetchTimeout,
				RunOnStart:   cfg.Alerts.RunOnStart,
			}, store, provider, bus, log)
			scheduler.Start(ctx)

			// 6. HTTP front-end
			router := gateway.NewRouter(gateway.NewHandler(gateway.Deps{
				Store:         store,
				Provider:      provider,
				Sweeper:       scheduler,
				Stream:        hub,
				Responder:     slack,
				SigningSecret: cfg.Slack.SigningSecret,
				Logger:        log,
			}))
			srv := &http.Server{
				Addr:              cfg.Server.HTTPAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				log.Info("Stockwatch listening", "addr", cfg.Server.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// 7. Wait for shutdown signal
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			var runErr error
			select {
			case sig := <-stop:
				log.Info("Shutting down", "signal", sig.String())
			case err := <-serverErr:
				log.Error("HTTP server failed", "error", err)
				runErr = err
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP shutdown incomplete", "error", err)
			}
			hub.Close()
			cancel()
			scheduler.Stop()
			bus.Close()
			log.Info("Stockwatch stopped")
			return runErr
		},
	}

	cmd.Flags().BoolVar(&promptToken, "prompt-token", false, "Read the Slack bot token from stdin when SLACK_BOT_TOKEN is unset.")
	return cmd
}
