package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

const defaultPullLimit = 100

// OutboxState — стадия доставки события в памяти.
type OutboxState string

const (
	OutboxPending OutboxState = "pending"
	OutboxSent    OutboxState = "sent"
	OutboxFailed  OutboxState = "failed"
)

type outboxEntry struct {
	msg      domain.OutboxMessage
	state    OutboxState
	attempts int
	queuedAt time.Time
}

// OutboxRepository держит события в порядке постановки. Записи не удаляются,
// чтобы тесты и dev-режим видели финальное состояние каждой.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{byID: make(map[string]*outboxEntry), now: time.Now}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already queued", msg.ID)
	}
	entry := &outboxEntry{msg: msg, state: OutboxPending, queuedAt: r.now().UTC()}
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending не меняет состояние: сообщение остаётся pending до MarkSent/MarkFailed.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range r.entries {
		if len(out) == limit {
			break
		}
		if e.state == OutboxPending {
			out = append(out, e.msg)
		}
	}
	return out, nil
}

func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		if e.state != OutboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.queuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, OutboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.transition(id, OutboxFailed)
}

// AllPending — снимок всего backlog без лимита.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	msgs, _ := r.PullPending(context.Background(), len(r.snapshot()))
	return msgs
}

// State отдаёт стадию события и число попыток доставки.
func (r *OutboxRepository) State(id string) (OutboxState, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return "", 0, false
	}
	return e.state, e.attempts, true
}

func (r *OutboxRepository) snapshot() []*outboxEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

func (r *OutboxRepository) transition(id string, to OutboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	e.state = to
	e.attempts++
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
