// Package outbox доставляет события заказов из transactional outbox в брокер.
// Сообщение, не ушедшее за MaxAttempts попыток, помечается failed и
// отправляется в DLQ, если она настроена.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 10 * time.Second
)

// Результаты попыток для shop_outbox_publish_attempts_total.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQFailed  = "dlq_failed"
)

// Result — итог одного прохода.
type Result struct {
	Sent         int
	Failed       int
	DeadLettered int
}

// Worker периодически вычитывает pending-сообщения и публикует их.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	metrics   *metrics.OutboxMetrics
	logger    *log.Entry
	now       func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option { return func(w *Worker) { w.logger = logger } }

// WithDLQPublisher включает DLQ для сообщений с исчерпанными попытками.
func WithDLQPublisher(p domain.OutboxPublisher) Option { return func(w *Worker) { w.dlq = p } }

func WithMetrics(m *metrics.OutboxMetrics) Option { return func(w *Worker) { w.metrics = m } }

func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }

func WithBatchSize(n int) Option { return func(w *Worker) { w.batchSize = n } }

func WithMaxAttempts(n int) Option { return func(w *Worker) { w.maxAttempts = n } }

// WithRetryBaseDelay задаёт паузу после первой неудачи; дальше она удваивается.
// 0 отключает паузы.
func WithRetryBaseDelay(d time.Duration) Option { return func(w *Worker) { w.retryBaseDelay = d } }

func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// NewWorker создаёт Worker. Непроставленные и некорректные параметры заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range options {
		opt(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.metrics == nil {
		w.metrics = metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.retryBaseDelay = max(w.retryBaseDelay, 0)
	return w
}

// Run крутит ProcessOnce раз в pollInterval, пока ctx жив.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну пачку pending-сообщений в порядке постановки.
func (w *Worker) ProcessOnce(ctx context.Context) Result {
	var res Result
	if ctx.Err() != nil {
		return res
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}

	for _, event := range batch {
		err := w.deliver(ctx, event)
		if ctx.Err() != nil {
			// Сообщение остаётся pending и уйдёт после рестарта.
			return res
		}
		if err == nil {
			res.Sent++
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				w.eventLogger(event).WithError(markErr).Warn("failed to mark outbox message as sent")
			}
			continue
		}

		res.Failed++
		w.metrics.RecordAttempt(resultFailed)
		w.eventLogger(event).WithError(err).Error("outbox message dropped after retries")
		if w.deadLetter(ctx, event, err) {
			res.DeadLettered++
		}
		if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
			w.eventLogger(event).WithError(markErr).Warn("failed to mark outbox message as failed")
		}
	}
	return res
}

// deliver делает до maxAttempts попыток с экспоненциальной паузой между ними.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, event); err == nil {
			w.metrics.RecordAttempt(resultSent)
			return nil
		}
		w.metrics.RecordAttempt(resultRetryError)
		if attempt == w.maxAttempts {
			return fmt.Errorf("publish %s after %d attempts: %w", event.EventType, attempt, err)
		}
		if !sleep(ctx, w.backoff(attempt)) {
			return ctx.Err()
		}
	}
}

// backoff: base, 2*base, 4*base ... не больше maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryBaseDelay == 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, cause error) bool {
	if w.dlq == nil {
		return false
	}
	payload, err := json.Marshal(NewDeadLetter(event, cause, w.now()))
	if err == nil {
		err = w.dlq.Publish(ctx, domain.OutboxMessage{
			ID:            event.ID,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			EventType:     event.EventType,
			Payload:       payload,
		})
	}
	if err != nil {
		w.metrics.RecordAttempt(resultDLQFailed)
		w.eventLogger(event).WithError(err).Warn("failed to publish outbox message to DLQ")
		return false
	}
	return true
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

func (w *Worker) eventLogger(event domain.OutboxMessage) *log.Entry {
	return w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
