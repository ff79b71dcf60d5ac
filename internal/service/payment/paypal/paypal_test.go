package paypal

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

const shopOrigin = "https://charlesmackaybooks.com"

func testOrder() domain.Order {
	return domain.Order{
		ID:            "ORD-01HZX",
		Currency:      "GBP",
		Items:         []domain.OrderItem{{BookID: "b1", Title: "Clydeside Aviation Vol. 1", Qty: 5, PriceMinor: 1000}},
		SubtotalMinor: 5000,
		DiscountMinor: 500,
		AmountMinor:   4500,
	}
}

func newSigner(t *testing.T) *TokenSigner {
	t.Helper()
	signer, err := NewTokenSigner("s3cret", time.Hour)
	require.NoError(t, err)
	return signer
}

func TestGeneratePayPalURL(t *testing.T) {
	signer := newSigner(t)
	b := NewURLBuilder(Config{Business: "sales@charlesmackaybooks.com", ReturnBase: shopOrigin + "/"}, signer)

	raw, err := b.GeneratePayPalURL(testOrder())
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "www.paypal.com", u.Host)

	q := u.Query()
	require.Equal(t, "_xclick", q.Get("cmd"))
	require.Equal(t, "sales@charlesmackaybooks.com", q.Get("business"))
	require.Equal(t, "45.00", q.Get("amount"))
	require.Equal(t, "GBP", q.Get("currency_code"))
	require.Equal(t, "ORD-01HZX", q.Get("invoice"))
	require.Contains(t, q.Get("item_name"), "5 books")

	ret, err := url.Parse(q.Get("return"))
	require.NoError(t, err)
	require.Equal(t, ReturnPath, ret.Path)
	claims, err := signer.Verify(ret.Query().Get("token"))
	require.NoError(t, err)
	require.Equal(t, "ORD-01HZX", claims.OrderID)
	require.Equal(t, PageReturn, claims.Page)

	cancel, err := url.Parse(q.Get("cancel_return"))
	require.NoError(t, err)
	require.Equal(t, CancelPath, cancel.Path)
	claims, err = signer.Verify(cancel.Query().Get("token"))
	require.NoError(t, err)
	require.Equal(t, PageCancel, claims.Page)

	require.Equal(t, shopOrigin+NotifyPath, q.Get("notify_url"))
}

func TestGeneratePayPalURL_NotConfigured(t *testing.T) {
	b := NewURLBuilder(Config{}, newSigner(t))
	_, err := b.GeneratePayPalURL(testOrder())
	require.ErrorIs(t, err, domain.ErrPaymentNotConfigured)

	_, err = NewTokenSigner("", 0)
	require.ErrorIs(t, err, domain.ErrPaymentNotConfigured)
}

func TestTokenSigner_Rejects(t *testing.T) {
	signer := newSigner(t)
	token, err := signer.Sign("ORD-1", PageReturn)
	require.NoError(t, err)

	other, err := NewTokenSigner("other", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, domain.ErrCallbackTokenInvalid)

	_, err = signer.Verify(token + "x")
	require.ErrorIs(t, err, domain.ErrCallbackTokenInvalid)

	_, err = signer.Verify(mustSign(t, signer, "ORD-1", Page("PAYPAL_PAYMENT_SUCCESS")))
	require.ErrorIs(t, err, domain.ErrCallbackTokenInvalid)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = signer.Verify(token)
	require.ErrorIs(t, err, domain.ErrCallbackTokenInvalid)
}

func mustSign(t *testing.T, signer *TokenSigner, orderID string, page Page) string {
	t.Helper()
	token, err := signer.Sign(orderID, page)
	require.NoError(t, err)
	return token
}

func TestOriginPolicy(t *testing.T) {
	policy, err := NewOriginPolicy(shopOrigin)
	require.NoError(t, err)

	tests := []struct {
		origin string
		want   bool
	}{
		{shopOrigin, true},
		{"https://www.paypal.com", true},
		{"https://paypal.com", true},
		{"https://www.sandbox.paypal.com", true},
		{"http://www.paypal.com", false},
		{"https://paypal.com.evil.example", false},
		{"https://evilpaypal.com", false},
		{"https://charlesmackaybooks.com.evil.example", false},
		{"http://charlesmackaybooks.com", false},
		{"null", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := policy.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	_, err = NewOriginPolicy("not a url")
	require.Error(t, err)
}

func newTestHub(t *testing.T, options ...HubOption) *Hub {
	t.Helper()
	policy, err := NewOriginPolicy(shopOrigin)
	require.NoError(t, err)
	options = append([]HubOption{WithPollInterval(5 * time.Millisecond)}, options...)
	return NewHub(policy, options...)
}

func TestHub_DeliverAndWait(t *testing.T) {
	hub := newTestHub(t)
	sub := hub.Subscribe("ORD-1")
	defer sub.Close()

	var (
		wg  sync.WaitGroup
		got Message
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err = sub.Wait(context.Background())
	}()

	ok, derr := hub.Deliver("https://www.paypal.com", Message{Type: MessageSuccess, OrderID: "ORD-1", TransactionID: "TX1"})
	require.NoError(t, derr)
	require.True(t, ok)
	wg.Wait()

	require.NoError(t, err)
	require.Equal(t, "TX1", got.TransactionID)

	// Второе сообщение не перетирает первое.
	ok, derr = hub.Deliver(shopOrigin, Message{Type: MessageError, OrderID: "ORD-1"})
	require.NoError(t, derr)
	require.False(t, ok)
	again, err := sub.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, MessageSuccess, again.Type)
}

func TestHub_RejectsUntrustedOriginAndBadMessages(t *testing.T) {
	hub := newTestHub(t)
	sub := hub.Subscribe("ORD-1")
	defer sub.Close()

	_, err := hub.Deliver("https://evil.example", Message{Type: MessageSuccess, OrderID: "ORD-1"})
	require.ErrorIs(t, err, domain.ErrOriginRejected)
	_, err = hub.Deliver(shopOrigin, Message{Type: "PAYPAL_PAYMENT_MAYBE", OrderID: "ORD-1"})
	require.ErrorIs(t, err, domain.ErrMessageInvalid)
	_, err = hub.Deliver(shopOrigin, Message{Type: MessageSuccess})
	require.ErrorIs(t, err, domain.ErrMessageInvalid)

	_, ok := sub.Result()
	require.False(t, ok)

	delivered, err := hub.Deliver(shopOrigin, Message{Type: MessageSuccess, OrderID: "ORD-unknown"})
	require.NoError(t, err)
	require.False(t, delivered)
}

func TestHub_AcceptDoesNotDeliver(t *testing.T) {
	hub := newTestHub(t)
	sub := hub.Subscribe("ORD-1")
	defer sub.Close()

	require.NoError(t, hub.Accept(shopOrigin, Message{Type: MessageSuccess, OrderID: "ORD-1"}))
	require.ErrorIs(t, hub.Accept("https://evil.example", Message{Type: MessageSuccess, OrderID: "ORD-1"}), domain.ErrOriginRejected)

	_, ok := sub.Result()
	require.False(t, ok)
}

func TestHub_PopupClosedEndsWait(t *testing.T) {
	hub := newTestHub(t)
	sub := hub.Subscribe("ORD-1")
	defer sub.Close()

	require.True(t, hub.PopupClosed("ORD-1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Wait(ctx)
	require.ErrorIs(t, err, domain.ErrPopupClosed)
}

func TestHub_WaitHonoursContext(t *testing.T) {
	hub := newTestHub(t)
	sub := hub.Subscribe("ORD-1")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub := newTestHub(t)
	sub := hub.Subscribe("ORD-1")
	require.Equal(t, 1, hub.Len())

	sub.Close()
	sub.Close()
	require.Equal(t, 0, hub.Len())

	_, err := sub.Wait(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionClosed)

	// Новая подписка вытесняет старую, закрытие старой не трогает новую.
	first := hub.Subscribe("ORD-2")
	second := hub.Subscribe("ORD-2")
	first.Close()
	current, ok := hub.Lookup("ORD-2")
	require.True(t, ok)
	require.Same(t, second, current)
	second.Close()
	require.Equal(t, 0, hub.Len())
}

func TestHub_SweepClosesStaleSubscriptions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	hub := newTestHub(t, WithSubscriptionTTL(time.Minute), WithHubClock(func() time.Time { return now }))

	stale := hub.Subscribe("ORD-old")
	now = now.Add(2 * time.Minute)
	fresh := hub.Subscribe("ORD-new")
	defer fresh.Close()

	require.Equal(t, 1, hub.Sweep())
	_, ok := hub.Lookup(stale.OrderID)
	require.False(t, ok)
	_, ok = hub.Lookup(fresh.OrderID)
	require.True(t, ok)
}
