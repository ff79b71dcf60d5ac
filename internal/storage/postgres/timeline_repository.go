package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// TimelineRepository — история статусов заказа (append-only).
type TimelineRepository struct {
	pool *pgxpool.Pool
}

// NewTimelineRepository создаёт TimelineRepository поверх пула store.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{pool: store.Pool()}
}

// Append добавляет событие; пустое время заменяется текущим.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.OrderID, event.Type, event.Reason, occurred.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append timeline event for %s: %w", event.OrderID, err)
	}
	return nil
}

// List отдаёт события заказа в порядке записи.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline of %s: %w", orderID, err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TimelineEvent, error) {
		var e domain.TimelineEvent
		err := row.Scan(&e.OrderID, &e.Type, &e.Reason, &e.Occurred)
		e.Occurred = e.Occurred.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan timeline of %s: %w", orderID, err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
