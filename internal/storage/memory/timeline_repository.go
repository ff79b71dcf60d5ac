package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// TimelineRepository — журнал статусов заказов.
type TimelineRepository struct {
	mu     sync.RWMutex
	byID   map[string][]domain.TimelineEvent
	nowUTC func() time.Time
}

func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		byID:   make(map[string][]domain.TimelineEvent),
		nowUTC: func() time.Time { return time.Now().UTC() },
	}
}

// Append вставляет событие по времени; при равном времени сохраняется порядок записи.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = r.nowUTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byID[event.OrderID]
	at, _ := slices.BinarySearchFunc(events, event.Occurred, func(e domain.TimelineEvent, t time.Time) int {
		if e.Occurred.After(t) {
			return 1
		}
		return -1
	})
	r.byID[event.OrderID] = slices.Insert(events, at, event)
	return nil
}

func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := slices.Clone(r.byID[orderID])
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
