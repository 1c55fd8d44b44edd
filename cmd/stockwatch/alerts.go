package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tiongMax/stockwatch/internal/alert"
	"github.com/tiongMax/stockwatch/internal/notify"
)

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Work with published alerts",
	}

	var fromBeginning bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print alerts from the Kafka alert topic as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("KAFKA_BROKERS is required for alerts tail")
			}

			consumer, err := notify.NewKafkaConsumer(cfg.Kafka.Brokers)
			if err != nil {
				return err
			}
			defer func() {
				if err := consumer.Close(); err != nil {
					log.Warn("Error closing consumer", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return notify.TailAlerts(ctx, consumer, cfg.Kafka.AlertTopic, fromBeginning, func(a alert.PriceAlert) {
				printf(cmd, "%s  %s\n", a.TriggeredAt.Local().Format("2006-01-02 15:04:05"), notify.FormatAlert(a))
			})
		},
	}
	tail.Flags().BoolVar(&fromBeginning, "from-beginning", false, "Start from the oldest retained alert instead of new ones.")

	cmd.AddCommand(tail)
	return cmd
}
