package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging"
)

var publishedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mockedProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mock := mocks.NewSyncProducer(t, nil)
	p := newProducer(mock)
	p.now = func() time.Time { return publishedAt }
	return p, mock
}

func paidEvent() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "CMB-20260301-0001",
		EventType:     domain.EventOrderPaid,
		Payload:       []byte(`{"status":"paid"}`),
	}
}

func TestTopicPublisher_Publish(t *testing.T) {
	t.Parallel()

	p, mock := mockedProducer(t)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return fmt.Errorf("topic %s", msg.Topic)
		}
		if key, _ := msg.Key.Encode(); string(key) != "CMB-20260301-0001" {
			return fmt.Errorf("key %s", key)
		}
		if len(msg.Headers) != 3 || !msg.Timestamp.Equal(publishedAt) {
			return fmt.Errorf("headers %v timestamp %s", msg.Headers, msg.Timestamp)
		}
		raw, _ := msg.Value.Encode()
		var env messaging.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		if env.EventType != domain.EventOrderPaid || string(env.Payload) != `{"status":"paid"}` {
			return fmt.Errorf("envelope %+v", env)
		}
		return nil
	})

	require.NoError(t, p.Topic(TopicDeadLetterQueue).Publish(context.Background(), paidEvent()))
	require.NoError(t, p.Close())
}

func TestTopicPublisher_Errors(t *testing.T) {
	t.Parallel()

	p, mock := mockedProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := p.Topic("").Publish(context.Background(), paidEvent())
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
	require.Contains(t, err.Error(), TopicOrderEvents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Topic("").Publish(ctx, paidEvent()), domain.ErrOutboxPublish)
	require.NoError(t, p.Close())

	var nilPublisher *TopicPublisher
	require.ErrorIs(t, nilPublisher.Publish(context.Background(), paidEvent()), domain.ErrOutboxPublish)
}

func TestNewProducer_NoBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Brokers: []string{" ", ""}})
	require.Error(t, err)
}

func TestProducer_PingWithoutClient(t *testing.T) {
	p, mock := mockedProducer(t)
	require.NoError(t, p.Ping(context.Background()))
	require.NoError(t, mock.Close())
}

func TestSaramaConfig(t *testing.T) {
	cfg := saramaConfig("")
	require.Equal(t, defaultClientID, cfg.ClientID)
	require.True(t, cfg.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "shop-dlq-replay", saramaConfig("shop-dlq-replay").ClientID)
}
