package domain

import "time"

// Типы событий заказа. Одни и те же строки пишутся в timeline и в outbox.
const (
	EventOrderCreated   = "order.created"
	EventOrderSaved     = "order.saved"
	EventOrderPaid      = "order.paid"
	EventOrderFailed    = "order.failed"
	EventOrderCancelled = "order.cancelled"
)

type TimelineEvent struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// OutboxMessage — событие, ожидающее публикации в брокер.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — размер backlog; OldestPendingAt нулевой при пустой очереди.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
