package domain

import (
	"context"
	"time"
)

// OrderRepository хранит заказы. Save использует Order.Version для optimistic locking
// и возвращает ErrOrderVersionConflict, если заказ успели изменить.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// ListByEmail сравнивает email без учёта регистра; limit <= 0 снимает ограничение.
	ListByEmail(ctx context.Context, email string, limit int) ([]Order, error)
	Save(ctx context.Context, order Order) error
}

// TimelineRepository — append-only история заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxRepository — очередь событий заказа, записанных вместе с изменением статуса.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher доставляет событие в брокер. Повторная доставка того же ID допустима.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

// IdempotencyRepository хранит Idempotency-Key и ответы, которые по нему отдаются повторно.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// DeleteExpired удаляет ключи с ttl_at <= before, не больше limit за вызов.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
