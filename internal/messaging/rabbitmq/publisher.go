// Package rabbitmq публикует события заказа в RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/messaging"
)

// Значения топологии по умолчанию.
const (
	DefaultExchange   = "shop.orders"
	DefaultQueue      = "shop.order.events"
	DefaultDeadLetter = "shop.order.events.dlq"
)

// Config описывает подключение и топологию.
type Config struct {
	URL        string
	Exchange   string
	Queue      string
	DeadLetter string
}

func (c Config) normalized() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.DeadLetter == "" {
		c.DeadLetter = DefaultDeadLetter
	}
	return c
}

// channel — часть *amqp.Channel, которая нужна паблишеру.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher реализует domain.OutboxPublisher поверх topic exchange.
type Publisher struct {
	conn   *amqp.Connection
	ch     channel
	cfg    Config
	logger *log.Entry
	now    func() time.Time
}

// Dial подключается к брокеру и объявляет топологию.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq url is not configured")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	p, err := newPublisher(ch, cfg)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, cfg Config) (*Publisher, error) {
	p := &Publisher{
		ch:     ch,
		cfg:    cfg.normalized(),
		logger: log.WithField("component", "rabbitmq-publisher"),
		now:    time.Now,
	}
	if err := p.setupTopology(); err != nil {
		return nil, err
	}
	return p, nil
}

// setupTopology: exchange событий, очередь с dead-letter и сама DLQ.
func (p *Publisher) setupTopology() error {
	dlx := p.cfg.DeadLetter + ".exchange"
	if err := p.ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := p.ch.QueueDeclare(p.cfg.DeadLetter, true, false, false, false, amqp.Table{
		"x-queue-type": "classic",
	}); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := p.ch.QueueBind(p.cfg.DeadLetter, p.cfg.DeadLetter, dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	if err := p.ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := p.ch.QueueDeclare(p.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": p.cfg.DeadLetter,
	}); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := p.ch.QueueBind(p.cfg.Queue, "order.#", p.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish отправляет envelope с routing key = типу события.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.ch == nil {
		return fmt.Errorf("%w: rabbitmq publisher is not initialized", domain.ErrOutboxPublish)
	}

	now := p.now()
	body, err := json.Marshal(messaging.NewEnvelope(event, now))
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range messaging.Headers(event) {
		headers[k] = v
	}

	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, event.EventType, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now,
		ContentType:   "application/json",
		MessageId:     event.ID,
		CorrelationId: messaging.Key(event),
		Type:          event.EventType,
		Headers:       headers,
		Body:          body,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"exchange":   p.cfg.Exchange,
			"event_type": event.EventType,
			"outbox_id":  event.ID,
		}).Error("failed to publish to rabbitmq")
		return fmt.Errorf("%w: %v", domain.ErrOutboxPublish, err)
	}
	return nil
}

// Ping сообщает, что соединение с брокером закрыто.
func (p *Publisher) Ping(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
