package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging/kafka"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging/rabbitmq"
)

// brokerPublishers — основной паблишер outbox и паблишер DLQ.
type brokerPublishers struct {
	name      string
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	ping      func(context.Context) error
	close     func() error
}

// initBroker подключает брокер событий. BrokerNone возвращает пустой набор:
// события копятся в outbox до появления брокера.
func initBroker(cfg Config, logger *log.Entry) (*brokerPublishers, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broker)) {
	case "", BrokerNone:
		return &brokerPublishers{name: BrokerNone, close: func() error { return nil }}, nil

	case BrokerKafka:
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:  strings.Split(cfg.KafkaBrokers, ","),
			ClientID: "charlesmackaybooks-shop",
		})
		if err != nil {
			return nil, err
		}
		logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
		return &brokerPublishers{
			name:      BrokerKafka,
			publisher: producer.Topic(cfg.KafkaTopic),
			dlq:       producer.Topic(cfg.KafkaDLQTopic),
			ping:      producer.Ping,
			close:     producer.Close,
		}, nil

	case BrokerRabbitMQ:
		publisher, err := rabbitmq.Dial(rabbitmq.Config{URL: cfg.RabbitURL, Exchange: cfg.RabbitExchange})
		if err != nil {
			return nil, err
		}
		logger.WithField("exchange", cfg.RabbitExchange).Info("rabbitmq publisher initialized")
		// у RabbitMQ роль DLQ играет dead-letter exchange очереди.
		return &brokerPublishers{
			name:      BrokerRabbitMQ,
			publisher: publisher,
			ping:      publisher.Ping,
			close:     publisher.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported broker %q", cfg.Broker)
	}
}

func closeBroker(b *brokerPublishers, logger *log.Entry) {
	if b == nil || b.close == nil {
		return
	}
	if err := b.close(); err != nil {
		logger.WithError(err).WithField("broker", b.name).Warn("failed to close broker")
		return
	}
	logger.WithField("broker", b.name).Info("broker closed")
}
