package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/tiongMax/stockwatch/internal/alert"
)

const DefaultAlertTopic = "price_alerts"

// NewKafkaProducer returns a producer that waits for all in-sync replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaConsumer returns a consumer that reports partition errors.
func NewKafkaConsumer(brokers []string) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// KafkaSink publishes alerts as JSON keyed by symbol, so alerts for the
// same symbol stay ordered within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultAlertTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(_ context.Context, a alert.PriceAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(a.Symbol),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send alert to %s: %w", k.topic, err)
	}
	k.logger.Debug("Alert sent to Kafka", "topic", k.topic, "partition", partition, "offset", offset)
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

// TailAlerts reads every partition of topic and calls handle for each alert
// until ctx is done. Alerts from one partition arrive in order; there is no
// ordering across partitions. Undecodable messages are logged and skipped.
func TailAlerts(ctx context.Context, consumer sarama.Consumer, topic string, fromOldest bool, handle func(alert.PriceAlert)) error {
	offset := sarama.OffsetNewest
	if fromOldest {
		offset = sarama.OffsetOldest
	}

	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return fmt.Errorf("list partitions of %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan *sarama.ConsumerMessage)
	errs := make(chan *sarama.ConsumerError)
	var wg sync.WaitGroup
	var pcs []sarama.PartitionConsumer
	defer func() {
		cancel()
		for _, pc := range pcs {
			if err := pc.Close(); err != nil {
				slog.Warn("Error closing partition consumer", "error", err)
			}
		}
		wg.Wait()
	}()

	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(topic, partition, offset)
		if err != nil {
			return fmt.Errorf("consume %s/%d: %w", topic, partition, err)
		}
		pcs = append(pcs, pc)

		wg.Add(2)
		go forward(ctx, &wg, pc.Messages(), messages)
		go forward(ctx, &wg, pc.Errors(), errs)
	}

	slog.Info("Consuming alert topic", "topic", topic, "partitions", len(partitions))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			var a alert.PriceAlert
			if err := json.Unmarshal(msg.Value, &a); err != nil {
				slog.Warn("Skipping undecodable alert", "partition", msg.Partition, "offset", msg.Offset, "error", err)
				continue
			}
			handle(a)
		case err := <-errs:
			slog.Error("Kafka error", "error", err)
		}
	}
}

// forward copies from one partition channel into the shared one until
// either side is done.
func forward[T any](ctx context.Context, wg *sync.WaitGroup, in <-chan T, out chan<- T) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}
