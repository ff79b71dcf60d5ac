// Package kafka публикует события заказов в Kafka через sarama.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging"
)

const (
	TopicOrderEvents     = "shop.order.events"
	TopicDeadLetterQueue = "shop.order.events.dlq"

	defaultClientID = "shop-service"
)

// ProducerConfig — подключение к кластеру.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// Producer держит sarama-клиент и синхронный producer поверх него.
// Один Producer обслуживает несколько топиков, см. Topic.
type Producer struct {
	client sarama.Client
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к брокерам. Producer идемпотентный, acks=all.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	client, err := sarama.NewClient(brokers, saramaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	sync, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := newProducer(sync)
	p.client = client
	return p, nil
}

func newProducer(sync sarama.SyncProducer) *Producer {
	return &Producer{
		sync:   sync,
		logger: log.WithField("component", "kafka-producer"),
		now:    time.Now,
	}
}

func saramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Topic возвращает паблишер outbox-событий в topic; пустое имя означает TopicOrderEvents.
func (p *Producer) Topic(topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &TopicPublisher{producer: p, topic: topic}
}

// Ping обновляет метаданные кластера; ошибка означает, что брокеры недоступны.
func (p *Producer) Ping(context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	if p.client.Closed() {
		return errors.New("kafka client is closed")
	}
	return p.client.RefreshMetadata()
}

// Close закрывает producer, затем клиента.
func (p *Producer) Close() error {
	err := p.sync.Close()
	if p.client != nil && !p.client.Closed() {
		err = errors.Join(err, p.client.Close())
	}
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := log.Fields{"topic": msg.Topic, "key": msg.Key}

	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return err
	}
	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka message sent")
	return nil
}

// TopicPublisher — domain.OutboxPublisher для одного топика.
// Ключом сообщения служит номер заказа, поэтому события заказа идут в одну партицию.
type TopicPublisher struct {
	producer *Producer
	topic    string
}

func (t *TopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if t == nil || t.producer == nil {
		return fmt.Errorf("%w: kafka publisher is not initialized", domain.ErrOutboxPublish)
	}

	now := t.producer.now()
	value, err := json.Marshal(messaging.NewEnvelope(event, now))
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic:     t.topic,
		Key:       sarama.StringEncoder(messaging.Key(event)),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(messaging.Headers(event)),
		Timestamp: now,
	}
	if err := t.producer.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: topic %s: %v", domain.ErrOutboxPublish, t.topic, err)
	}
	return nil
}

func recordHeaders(h map[string]string) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(h))
	for k, v := range h {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
