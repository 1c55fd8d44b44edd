package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiongMax/stockwatch/internal/alert"
)

func TestKafkaSinkDeliver(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var a alert.PriceAlert
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		assert.Equal(t, sampleAlert(), a)
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "", quietLogger())
	assert.Equal(t, DefaultAlertTopic, sink.topic)

	require.NoError(t, sink.Deliver(context.Background(), sampleAlert()))
	assert.ErrorIs(t, sink.Deliver(context.Background(), sampleAlert()), sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestTailAlerts(t *testing.T) {
	tsla := sampleAlert()
	aapl := sampleAlert()
	aapl.Symbol, aapl.DisplayName = "AAPL", "Apple Inc."

	encode := func(a alert.PriceAlert) []byte {
		payload, err := json.Marshal(a)
		require.NoError(t, err)
		return payload
	}

	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"price_alerts": {0, 1}})
	consumer.ExpectConsumePartition("price_alerts", 0, sarama.OffsetOldest).
		YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: []byte("not json")}).
		YieldMessage(&sarama.ConsumerMessage{Offset: 1, Value: encode(tsla)})
	consumer.ExpectConsumePartition("price_alerts", 1, sarama.OffsetOldest).
		YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: encode(aapl)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []alert.PriceAlert
	err := TailAlerts(ctx, consumer, "price_alerts", true, func(a alert.PriceAlert) {
		got = append(got, a)
		if len(got) == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []alert.PriceAlert{tsla, aapl}, got)
}

func TestTailAlertsUnknownTopic(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"price_alerts": {0}})

	err := TailAlerts(context.Background(), consumer, "missing", false, func(alert.PriceAlert) {})
	assert.Error(t, err)
}
