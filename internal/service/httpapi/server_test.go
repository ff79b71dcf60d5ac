package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/catalog"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/orders"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/stripe"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payments"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/storage/memory"
)

const testShopOrigin = "https://charlesmackaybooks.com"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiFixture struct {
	router   *gin.Engine
	orders   *orders.Service
	gateway  *stripe.MockGateway
	verifier *paypal.MockVerifier
	signer   *paypal.TokenSigner
	registry *prometheus.Registry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	books, err := catalog.Default()
	require.NoError(t, err)
	svc := orders.NewService(memory.NewOrderRepository(), memory.NewTimelineRepository(), memory.NewOutboxRepository(), books, nil)

	signer, err := paypal.NewTokenSigner("callback-secret", time.Hour)
	require.NoError(t, err)
	policy, err := paypal.NewOriginPolicy(testShopOrigin)
	require.NoError(t, err)
	hub := paypal.NewHub(policy, paypal.WithPollInterval(5*time.Millisecond))
	builder := paypal.NewURLBuilder(paypal.Config{Business: "sales@charlesmackaybooks.com", ReturnBase: testShopOrigin}, signer)
	gateway := stripe.NewMockGateway()
	verifier := paypal.NewMockVerifier()
	coord := payments.NewCoordinator(svc, gateway, stripe.NewWebhookVerifier("whsec_test"), builder, hub, signer,
		payments.WithPayPalVerifier(verifier),
	)

	registry := prometheus.NewRegistry()
	handler := NewHandler(books, checkout.NewSessions(), svc, coord,
		WithHTTPMetrics(metrics.NewHTTPMetrics(registry)),
		WithIdempotency(memory.NewIdempotencyRepository(), time.Hour),
	)

	return &apiFixture{
		router:   handler.Router(),
		orders:   svc,
		gateway:  gateway,
		verifier: verifier,
		signer:   signer,
		registry: registry,
	}
}

// shopper — клиент с cookie сессии.
type shopper struct {
	t      *testing.T
	router *gin.Engine
	cookie *http.Cookie
}

func (f *apiFixture) shopper(t *testing.T) *shopper {
	return &shopper{t: t, router: f.router}
}

func (s *shopper) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			s.cookie = c
		}
	}
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func ukAddress() map[string]string {
	return map[string]string{
		"first_name": "Amy",
		"last_name":  "Johnson",
		"email":      "amy@example.co.uk",
		"address1":   "1 Hangar Road",
		"city":       "Glasgow",
		"postcode":   "G1 1AA",
		"country":    "GB",
	}
}

// atPayment кладёт книги в корзину и проводит покупателя до шага оплаты.
func (s *shopper) atPayment(bookID string, qty int) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": bookID, "quantity": qty}, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/checkout/next", nil, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/checkout/address", ukAddress(), nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBooks(t *testing.T) {
	f := newAPIFixture(t)
	s := f.shopper(t)

	rec := s.do(http.MethodGet, "/api/books", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Books []bookView `json:"books"`
	}](t, rec)
	require.NotEmpty(t, list.Books)
	require.NotNil(t, s.cookie)

	rec = s.do(http.MethodGet, "/api/books/beardmore-aviation", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[bookView](t, rec)
	require.Equal(t, "12.91", book.Price)

	rec = s.do(http.MethodGet, "/api/books/no-such-book", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCart_TotalsAndMutations(t *testing.T) {
	f := newAPIFixture(t)
	s := f.shopper(t)

	rec := s.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": "clydeside-aviation-vol1", "quantity": 5}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[cartView](t, rec)
	require.Equal(t, 5, view.Quantity)
	require.Equal(t, "50.00", view.Subtotal)
	require.Equal(t, 10, view.DiscountPercent)
	require.Equal(t, "5.00", view.Discount)
	require.Equal(t, "45.00", view.Total)
	require.Equal(t, "GBP", view.Currency)

	rec = s.do(http.MethodPut, "/api/cart/items/clydeside-aviation-vol1", map[string]int{"quantity": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[cartView](t, rec)
	require.Equal(t, 2, view.Quantity)
	require.Equal(t, 0, view.DiscountPercent)

	rec = s.do(http.MethodPut, "/api/cart/items/clydeside-aviation-vol1", map[string]int{"quantity": 0}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[cartView](t, rec).Items)

	rec = s.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": "nope"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": "beardmore-aviation", "quantity": -1}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/cart/items", `{"book_id":`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCart_SessionsAreIsolated(t *testing.T) {
	f := newAPIFixture(t)
	amy := f.shopper(t)
	bob := f.shopper(t)

	amy.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": "beardmore-aviation"}, nil)
	rec := bob.do(http.MethodGet, "/api/cart", nil, nil)
	require.Equal(t, 0, decode[cartView](t, rec).Quantity)

	rec = amy.do(http.MethodGet, "/api/cart", nil, nil)
	require.Equal(t, 1, decode[cartView](t, rec).Quantity)
}

func TestCheckout_StepsAndValidation(t *testing.T) {
	f := newAPIFixture(t)
	s := f.shopper(t)

	rec := s.do(http.MethodPost, "/api/checkout/next", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "cart is empty")

	s.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": "beardmore-aviation"}, nil)
	rec = s.do(http.MethodPost, "/api/checkout/next", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, checkout.StepAddress, decode[checkoutView](t, rec).Step)

	bad := ukAddress()
	bad["email"] = ""
	rec = s.do(http.MethodPost, "/api/checkout/address", bad, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	invalid := decode[struct {
		Errors []string `json:"errors"`
	}](t, rec)
	require.NotEmpty(t, invalid.Errors)

	rec = s.do(http.MethodPost, "/api/checkout/address", ukAddress(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[checkoutView](t, rec)
	require.Equal(t, checkout.StepPayment, state.Step)
	require.Equal(t, 3, state.StepIndex)
	require.Equal(t, "GB", state.Cart.Destination)

	rec = s.do(http.MethodPost, "/api/checkout/back", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, checkout.StepAddress, decode[checkoutView](t, rec).Step)
}

func TestOrders_NotFoundAndLookup(t *testing.T) {
	f := newAPIFixture(t)
	s := f.shopper(t)

	rec := s.do(http.MethodGet, "/api/orders/ORD-missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	s.atPayment("beardmore-aviation", 1)
	rec = s.do(http.MethodPost, "/api/payments/stripe/intent", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	start := decode[payments.StripeStart](t, rec)

	rec = s.do(http.MethodGet, "/api/confirmation?orderId="+start.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipt := decode[receiptView](t, rec)
	require.Equal(t, "£12.91", receipt.Total)
	require.Len(t, receipt.Timeline, 1)

	rec = s.do(http.MethodGet, "/api/orders/lookup?email=amy@example.co.uk&order_id="+start.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/orders/lookup?email=someone@example.com&order_id="+start.OrderID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrders_ForeignSessionCannotReadReceipt(t *testing.T) {
	f := newAPIFixture(t)
	owner := f.shopper(t)
	owner.atPayment("beardmore-aviation", 1)
	rec := owner.do(http.MethodPost, "/api/payments/stripe/intent", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	start := decode[payments.StripeStart](t, rec)

	stranger := f.shopper(t)
	stranger.atPayment("beardmore-aviation", 1)
	for _, path := range []string{
		"/api/orders/" + start.OrderID,
		"/api/confirmation?orderId=" + start.OrderID,
	} {
		rec = stranger.do(http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		require.NotContains(t, rec.Body.String(), "Hangar Road")
		require.NotContains(t, rec.Body.String(), "amy@example.co.uk")

		rec = owner.do(http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Contains(t, rec.Body.String(), "Hangar Road")
	}

	// Оплаченный заказ остаётся доступен сессии-владельцу, но не чужой.
	intent, ok := f.gateway.IntentForOrder(start.OrderID)
	require.True(t, ok)
	f.gateway.Succeed(intent.ID)
	rec = owner.do(http.MethodPost, "/api/payments/stripe/confirm", map[string]string{"order_id": start.OrderID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = owner.do(http.MethodGet, "/api/confirmation?orderId="+start.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = stranger.do(http.MethodGet, "/api/confirmation?orderId="+start.OrderID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Без cookie сессии заказ доступен только через поиск по email.
	anonymous := f.shopper(t)
	rec = anonymous.do(http.MethodGet, "/api/orders/"+start.OrderID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = anonymous.do(http.MethodGet, "/api/orders/lookup?email=amy@example.co.uk&order_id="+start.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsAndUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)
	s := f.shopper(t)

	s.do(http.MethodGet, "/api/books", nil, nil)
	rec := s.do(http.MethodGet, "/nowhere", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	families, err := f.registry.Gather()
	require.NoError(t, err)
	var routes []string
	for _, mf := range families {
		if mf.GetName() != "shop_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					routes = append(routes, l.GetValue())
				}
			}
		}
	}
	require.Contains(t, routes, "/api/books")
	require.Contains(t, routes, "unmatched")
}
