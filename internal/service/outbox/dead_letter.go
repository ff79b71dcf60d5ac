package outbox

import (
	"encoding/json"
	"time"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// DeadLetter — payload сообщения в DLQ: исходное событие и причина отказа.
// Читается утилитой dlq-replay.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter упаковывает событие; невалидный JSON заменяется на {}.
func NewDeadLetter(event domain.OutboxMessage, cause error, at time.Time) DeadLetter {
	payload := json.RawMessage(`{}`)
	if len(event.Payload) > 0 && json.Valid(event.Payload) {
		payload = json.RawMessage(event.Payload)
	}
	dl := DeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        payload,
		DLQPublishedAt: at.UTC(),
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}
	return dl
}

// Message превращает DeadLetter обратно в событие outbox.
func (d DeadLetter) Message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}
