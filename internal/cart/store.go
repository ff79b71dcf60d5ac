// Package cart хранит корзину одной сессии покупателя.
package cart

import (
	"sync"
	"time"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

// Item — книга в корзине и её количество (всегда > 0).
type Item struct {
	Book     domain.Book `json:"book"`
	Quantity int         `json:"quantity"`
}

// LineTotalMinor — price * quantity.
func (i Item) LineTotalMinor() int64 {
	return i.Book.PriceMinor * int64(i.Quantity)
}

// Store — корзина сессии. Все изменения идут через именованные методы под мьютексом,
// производные суммы пересчитываются калькулятором при каждом чтении.
type Store struct {
	mu          sync.RWMutex
	items       []Item
	destination string
	calc        *pricing.Calculator
	updatedAt   time.Time
}

// NewStore создаёт пустую корзину.
func NewStore(calc *pricing.Calculator) *Store {
	if calc == nil {
		calc = pricing.DefaultCalculator()
	}
	return &Store{calc: calc, updatedAt: time.Now().UTC()}
}

// Add добавляет экземпляр книги: новая позиция с количеством 1 или +1 к существующей.
func (s *Store) Add(book domain.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(book.ID); idx >= 0 {
		s.items[idx].Quantity++
	} else {
		s.items = append(s.items, Item{Book: book, Quantity: 1})
	}
	s.touch()
}

// Remove удаляет позицию; отсутствие позиции не ошибка.
func (s *Store) Remove(bookID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(bookID)
}

// UpdateQuantity выставляет количество; quantity <= 0 равносильно Remove.
func (s *Store) UpdateQuantity(bookID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity <= 0 {
		s.removeLocked(bookID)
		return
	}
	if idx := s.indexOf(bookID); idx >= 0 {
		s.items[idx].Quantity = quantity
		s.touch()
	}
}

// Clear очищает корзину.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.touch()
}

// SetDestination запоминает страну доставки для расчёта shipping.
func (s *Store) SetDestination(country string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination = country
}

// Destination возвращает страну доставки.
func (s *Store) Destination() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destination
}

// Items возвращает копию позиций в порядке добавления.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// IsEmpty сообщает, пуста ли корзина.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items) == 0
}

// Lines возвращает позиции для пересчёта итогов.
func (s *Store) Lines() []pricing.Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linesLocked()
}

// Totals возвращает полную разбивку для текущей страны доставки.
func (s *Store) Totals() pricing.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc.Calculate(s.linesLocked(), s.destination)
}

// TotalPrice — subtotal: сумма price * quantity.
func (s *Store) TotalPrice() int64 { return s.Totals().SubtotalMinor }

// TotalQuantity — количество книг во всех позициях.
func (s *Store) TotalQuantity() int { return s.Totals().Quantity }

// BulkDiscountPercentage — процент оптовой скидки по количеству.
func (s *Store) BulkDiscountPercentage() int { return s.Totals().DiscountPercent }

// BulkDiscount — скидка в пенсах.
func (s *Store) BulkDiscount() int64 { return s.Totals().DiscountMinor }

// ShippingCost — доставка по действующей политике.
func (s *Store) ShippingCost() int64 { return s.Totals().ShippingMinor }

// FinalTotal — subtotal - discount + shipping.
func (s *Store) FinalTotal() int64 { return s.Totals().TotalMinor }

// UpdatedAt — время последнего изменения.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Store) linesLocked() []pricing.Line {
	lines := make([]pricing.Line, 0, len(s.items))
	for _, item := range s.items {
		lines = append(lines, pricing.LineFromBook(item.Book, item.Quantity))
	}
	return lines
}

func (s *Store) indexOf(bookID string) int {
	for i, item := range s.items {
		if item.Book.ID == bookID {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(bookID string) {
	idx := s.indexOf(bookID)
	if idx < 0 {
		return
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.touch()
}

func (s *Store) touch() {
	s.updatedAt = time.Now().UTC()
}
