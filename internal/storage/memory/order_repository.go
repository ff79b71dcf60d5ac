// Package memory содержит хранилища магазина в памяти процесса для локального запуска и тестов.
// Поведение совпадает с пакетом postgres, включая ошибки домена.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// OrderRepository держит заказы и индекс по email покупателя.
type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	byEmail map[string][]string
}

// NewOrderRepository создаёт пустой OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]domain.Order),
		byEmail: make(map[string][]string),
	}
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create сохраняет копию заказа; занятый ID даёт ErrOrderAlreadyExists.
func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}
	r.orders[order.ID] = copyOrder(order)
	key := emailKey(order.Customer.Email)
	r.byEmail[key] = append(r.byEmail[key], order.ID)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

// ListByEmail — заказы покупателя от новых к старым, email без учёта регистра.
func (r *OrderRepository) ListByEmail(_ context.Context, email string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	ids := r.byEmail[emailKey(email)]
	found := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		found = append(found, copyOrder(r.orders[id]))
	}
	r.mu.RUnlock()

	slices.SortFunc(found, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// Save заменяет заказ при совпадении Version и увеличивает её.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return domain.ErrOrderVersionConflict
	}

	if oldKey, newKey := emailKey(stored.Customer.Email), emailKey(order.Customer.Email); oldKey != newKey {
		r.byEmail[oldKey] = slices.DeleteFunc(r.byEmail[oldKey], func(id string) bool { return id == order.ID })
		r.byEmail[newKey] = append(r.byEmail[newKey], order.ID)
	}
	order.Version++
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
