package paypal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

// MockVerifier — PayPal в памяти для тестов и локального запуска. Знает только
// зарегистрированные транзакции; уведомление подтверждается, если совпадает с ними.
type MockVerifier struct {
	mu sync.Mutex

	LookupErr   error
	LookupCalls int

	txns map[string]Transaction
}

// NewMockVerifier возвращает пустой mock.
func NewMockVerifier() *MockVerifier {
	return &MockVerifier{txns: make(map[string]Transaction)}
}

// Pay регистрирует завершённый платёж за заказ.
func (m *MockVerifier) Pay(order domain.Order, business, txnID string) Transaction {
	tx := Transaction{
		ID:          txnID,
		Status:      PaymentCompleted,
		Invoice:     order.ID,
		Custom:      order.ID,
		Receiver:    business,
		AmountMinor: order.AmountMinor,
		Currency:    strings.ToUpper(order.Currency),
	}
	m.Set(tx)
	return tx
}

// Set регистрирует транзакцию как есть.
func (m *MockVerifier) Set(tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[tx.ID] = tx
}

// Lookup возвращает зарегистрированную транзакцию.
func (m *MockVerifier) Lookup(_ context.Context, txnID string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LookupCalls++
	if m.LookupErr != nil {
		return Transaction{}, m.LookupErr
	}
	tx, ok := m.txns[strings.TrimSpace(txnID)]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: paypal did not confirm transaction %q", domain.ErrPaymentNotSucceeded, txnID)
	}
	return tx, nil
}

// ValidateNotification отвечает VERIFIED только на уведомление, совпадающее
// с зарегистрированной транзакцией.
func (m *MockVerifier) ValidateNotification(_ context.Context, body []byte) (Transaction, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", domain.ErrMessageInvalid, err)
	}
	sent, err := parseTransaction(values)
	if err != nil {
		return Transaction{}, err
	}

	m.mu.Lock()
	known, ok := m.txns[sent.ID]
	m.mu.Unlock()
	if !ok || known != sent {
		return Transaction{}, ErrNotificationInvalid
	}
	return sent, nil
}

// Form кодирует транзакцию полями IPN.
func (t Transaction) Form() url.Values {
	form := url.Values{}
	form.Set("txn_id", t.ID)
	form.Set("payment_status", t.Status)
	form.Set("invoice", t.Invoice)
	form.Set("custom", t.Custom)
	form.Set("receiver_email", t.Receiver)
	form.Set("mc_gross", pricing.Format(t.AmountMinor))
	form.Set("mc_currency", t.Currency)
	if t.PendingReason != "" {
		form.Set("pending_reason", t.PendingReason)
	}
	if t.ReceiverID != "" {
		form.Set("receiver_id", t.ReceiverID)
	}
	return form
}
