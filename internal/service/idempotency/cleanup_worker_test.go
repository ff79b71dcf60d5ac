package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/storage/memory"
)

func TestCleanupWorker_Sweep(t *testing.T) {
	t.Parallel()

	errDB := errors.New("conn closed")
	tests := []struct {
		name       string
		results    []int
		errs       []error
		maxBatches int
		wantTotal  int
		wantCalls  int
		wantErr    error
	}{
		{name: "drains in batches", results: []int{2, 2, 1}, wantTotal: 5, wantCalls: 3},
		{name: "nothing expired", results: []int{0}, wantTotal: 0, wantCalls: 1},
		{name: "stops at batch limit", results: []int{2, 2, 2, 2}, maxBatches: 2, wantTotal: 4, wantCalls: 2},
		{name: "error keeps partial total", results: []int{2}, errs: []error{nil, errDB}, wantTotal: 2, wantCalls: 2, wantErr: errDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &stubCleanupRepo{results: tt.results, errs: tt.errs}
			w := NewCleanupWorker(repo,
				WithBatchSize(2),
				WithMaxBatches(tt.maxBatches),
				WithMetrics(metrics.NewCleanupMetrics(prometheus.NewRegistry())),
			)

			total, err := w.Sweep(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantTotal, total)
			require.Equal(t, tt.wantCalls, repo.calls())
		})
	}
}

func TestCleanupWorker_SweepUsesClockAsCutoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository()
	_, err := repo.CreateProcessing(ctx, "stale", "h1", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "fresh", "h2", now.Add(time.Hour))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	w := NewCleanupWorker(repo,
		WithMetrics(metrics.NewCleanupMetrics(registry)),
		WithClock(func() time.Time { return now }),
	)

	deleted, err := w.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = repo.Get(ctx, "stale")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "fresh")
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	var removed float64
	for _, f := range families {
		if f.GetName() == "shop_idempotency_cleanup_deleted_total" {
			removed = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Equal(t, 1.0, removed)
}

func TestCleanupWorker_RunRecordsAndStops(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	repo := &stubCleanupRepo{errs: []error{errors.New("timeout")}}
	w := NewCleanupWorker(repo,
		WithInterval(5*time.Millisecond),
		WithMetrics(metrics.NewCleanupMetrics(registry)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}

	count, err := testutil.GatherAndCount(registry, "shop_idempotency_cleanup_runs_total")
	require.NoError(t, err)
	require.Equal(t, 2, count, "error and ok series")

	// Без репозитория Run сразу выходит.
	NewCleanupWorker(nil, WithMetrics(metrics.NewCleanupMetrics(prometheus.NewRegistry()))).Run(context.Background())
}

type stubCleanupRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	results []int
	errs    []error
	n       int
}

func (s *stubCleanupRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.n++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	return n, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
