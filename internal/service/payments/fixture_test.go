package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/catalog"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/orders"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/stripe"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/storage/memory"
)

const (
	testShopOrigin    = "https://charlesmackaybooks.com"
	testWebhookSecret = "whsec_test"
	testBusiness      = "sales@charlesmackaybooks.com"
)

// harness собирает координатор на in-memory хранилищах и mock-провайдерах.
type harness struct {
	catalog  *catalog.Catalog
	orders   *orders.Service
	gateway  *stripe.MockGateway
	verifier *paypal.MockVerifier
	signer   *paypal.TokenSigner
	hub      *paypal.Hub
	sessions *checkout.Sessions
	coord    *Coordinator
}

func newHarness() (*harness, error) {
	books, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	svc := orders.NewService(memory.NewOrderRepository(), memory.NewTimelineRepository(), memory.NewOutboxRepository(), books, nil)

	signer, err := paypal.NewTokenSigner("callback-secret", time.Hour)
	if err != nil {
		return nil, err
	}
	policy, err := paypal.NewOriginPolicy(testShopOrigin)
	if err != nil {
		return nil, err
	}
	hub := paypal.NewHub(policy, paypal.WithPollInterval(5*time.Millisecond))
	builder := paypal.NewURLBuilder(paypal.Config{Business: testBusiness, ReturnBase: testShopOrigin}, signer)
	gateway := stripe.NewMockGateway()
	verifier := paypal.NewMockVerifier()

	return &harness{
		catalog:  books,
		orders:   svc,
		gateway:  gateway,
		verifier: verifier,
		signer:   signer,
		hub:      hub,
		sessions: checkout.NewSessions(),
		coord: NewCoordinator(svc, gateway, stripe.NewWebhookVerifier(testWebhookSecret), builder, hub, signer,
			WithPayPalVerifier(verifier),
		),
	}, nil
}

func mustHarness(t *testing.T) *harness {
	t.Helper()
	h, err := newHarness()
	require.NoError(t, err)
	return h
}

func ukAddress() domain.CustomerDetails {
	return domain.CustomerDetails{
		FirstName: "Amy",
		LastName:  "Johnson",
		Email:     "amy@example.co.uk",
		Address1:  "1 Hangar Road",
		City:      "Glasgow",
		Postcode:  "G1 1AA",
		Country:   "GB",
	}
}

// sessionAtPayment возвращает сессию с книгами в корзине на шаге оплаты.
func (h *harness) sessionAtPayment(bookID string, qty int) (*checkout.Session, error) {
	s, _ := h.sessions.GetOrCreate("")
	book, err := h.catalog.Get(bookID)
	if err != nil {
		return nil, err
	}
	for i := 0; i < qty; i++ {
		s.Cart.Add(book)
	}
	if err := s.Wizard.Next(); err != nil {
		return nil, err
	}
	errs, err := s.Wizard.SubmitAddress(ukAddress())
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("address rejected: %v", errs)
	}
	return s, nil
}

// payPalPaid регистрирует у mock-PayPal завершённый платёж за заказ.
func (h *harness) payPalPaid(t *testing.T, orderID, txnID string) paypal.Transaction {
	t.Helper()
	order, err := h.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	return h.verifier.Pay(order, testBusiness, txnID)
}

func signWebhook(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookPayload(eventType string, intent domain.PaymentIntent) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_test",
  "object": "event",
  "api_version": "2023-10-16",
  "type": %q,
  "data": {"object": {
    "id": %q,
    "object": "payment_intent",
    "status": %q,
    "amount": %d,
    "currency": %q,
    "metadata": {"order_id": %q}
  }}
}`, eventType, intent.ID, intent.Status, intent.AmountMinor, intent.Currency, intent.OrderID))
}
