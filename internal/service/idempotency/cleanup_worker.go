// Package idempotency удаляет просроченные Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultMaxBatches       = 20
)

// CleanupWorker раз в interval удаляет ключи с истёкшим ttl порциями по batchSize.
// За один проход выполняется не больше maxBatches удалений, остаток уходит в следующий.
type CleanupWorker struct {
	repo    domain.IdempotencyRepository
	metrics *metrics.CleanupMetrics
	logger  *log.Entry
	now     func() time.Time

	interval   time.Duration
	batchSize  int
	maxBatches int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithClock подменяет часы, с которыми сравнивается ttl.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) { w.now = now }
}

func WithInterval(d time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = d }
}

func WithBatchSize(n int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = n }
}

func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) { w.maxBatches = n }
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		now:        time.Now,
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
	}
	for _, opt := range options {
		opt(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup")
	}
	if w.metrics == nil {
		w.metrics = metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	if w.maxBatches <= 0 {
		w.maxBatches = defaultMaxBatches
	}
	return w
}

// Run вызывает Sweep сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.metrics.RecordRun(err, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup failed")
	default:
		w.metrics.RecordRun(nil, deleted)
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Debug("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет ключи, просроченные на момент вызова, и возвращает их число.
func (w *CleanupWorker) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().UTC()
	total := 0
	for batch := 0; batch < w.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := w.repo.DeleteExpired(ctx, cutoff, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.metrics.AddDeleted(n)
		if n < w.batchSize {
			break
		}
	}
	return total, nil
}
