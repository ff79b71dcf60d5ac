package stripe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// MockGateway — конфигурируемая заглушка Gateway для тестов и локального запуска без ключей.
// Как и Stripe, на повторный Create для того же заказа возвращает тот же intent.
type MockGateway struct {
	mu sync.Mutex

	CreateErr error
	GetErr    error
	// InitialStatus — статус новых intent (по умолчанию requires_payment_method).
	InitialStatus domain.PaymentIntentStatus

	CreateCalls int
	GetCalls    int

	seq     int
	intents map[string]domain.PaymentIntent
	byOrder map[string]string
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		InitialStatus: domain.PaymentIntentRequiresPaymentMethod,
		intents:       make(map[string]domain.PaymentIntent),
		byOrder:       make(map[string]string),
	}
}

// CreatePaymentIntent создаёт intent в памяти.
func (m *MockGateway) CreatePaymentIntent(_ context.Context, params IntentParams) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if m.CreateErr != nil {
		return domain.PaymentIntent{}, m.CreateErr
	}
	if id, ok := m.byOrder[params.OrderID]; ok {
		return m.intents[id], nil
	}

	m.seq++
	id := fmt.Sprintf("pi_mock_%d", m.seq)
	intent := domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_mock",
		OrderID:      params.OrderID,
		Status:       m.InitialStatus,
		AmountMinor:  params.AmountMinor,
		Currency:     strings.ToUpper(params.Currency),
	}
	m.intents[id] = intent
	m.byOrder[params.OrderID] = id
	return intent, nil
}

// GetPaymentIntent возвращает intent по ID.
func (m *MockGateway) GetPaymentIntent(_ context.Context, id string) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetErr != nil {
		return domain.PaymentIntent{}, m.GetErr
	}
	intent, ok := m.intents[id]
	if !ok {
		return domain.PaymentIntent{}, fmt.Errorf("%w: no such payment intent %s", domain.ErrPaymentProviderUnavailable, id)
	}
	return intent, nil
}

// Succeed имитирует успешное подтверждение карты покупателем.
func (m *MockGateway) Succeed(id string) {
	m.setStatus(id, domain.PaymentIntentSucceeded, "")
}

// Decline имитирует отказ банка.
func (m *MockGateway) Decline(id, message string) {
	m.setStatus(id, domain.PaymentIntentRequiresPaymentMethod, message)
}

// SetAmount меняет сумму intent (проверка расхождения сумм).
func (m *MockGateway) SetAmount(id string, amountMinor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[id]; ok {
		intent.AmountMinor = amountMinor
		m.intents[id] = intent
	}
}

// IntentForOrder возвращает intent, созданный для заказа.
func (m *MockGateway) IntentForOrder(orderID string) (domain.PaymentIntent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return domain.PaymentIntent{}, false
	}
	return m.intents[id], true
}

func (m *MockGateway) setStatus(id string, status domain.PaymentIntentStatus, lastErr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[id]; ok {
		intent.Status = status
		intent.LastError = lastErr
		m.intents[id] = intent
	}
}

var _ Gateway = (*MockGateway)(nil)
