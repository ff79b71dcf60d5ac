package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

const testBusiness = "sales@charlesmackaybooks.com"

// fakeWebscr отвечает как webscr: PDT по известному tx и IPN по сохранённому телу.
func fakeWebscr(t *testing.T, pdt map[string]string, ipnAnswer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)

		switch form.Get("cmd") {
		case pdtCommand:
			require.Equal(t, "pdt-token", form.Get("at"))
			answer, ok := pdt[form.Get("tx")]
			if !ok {
				_, _ = io.WriteString(w, "FAIL\nError: 4003\n")
				return
			}
			_, _ = io.WriteString(w, answer)
		case ipnCommand:
			require.True(t, strings.HasPrefix(string(body), "cmd="+ipnCommand+"&"))
			_, _ = io.WriteString(w, ipnAnswer)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func TestClient_Lookup(t *testing.T) {
	srv := fakeWebscr(t, map[string]string{
		"9AB12345CD": "SUCCESS\r\npayment_status=Completed\r\ntxn_id=9AB12345CD\r\ninvoice=ORD-01HZX\r\n" +
			"custom=ORD-01HZX\r\nreceiver_email=sales%40charlesmackaybooks.com\r\nmc_gross=45.00\r\nmc_currency=gbp\r\n",
	}, "")
	defer srv.Close()

	client := NewClient("pdt-token", WithEndpoint(srv.URL))
	tx, err := client.Lookup(context.Background(), "9AB12345CD")
	require.NoError(t, err)
	require.Equal(t, Transaction{
		ID:          "9AB12345CD",
		Status:      PaymentCompleted,
		Invoice:     "ORD-01HZX",
		Custom:      "ORD-01HZX",
		Receiver:    testBusiness,
		AmountMinor: 4500,
		Currency:    "GBP",
	}, tx)
	require.NoError(t, VerifyCompleted(tx, testOrder(), testBusiness))

	_, err = client.Lookup(context.Background(), "UNKNOWN")
	require.ErrorIs(t, err, domain.ErrPaymentNotSucceeded)

	_, err = client.Lookup(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrPaymentNotSucceeded)

	_, err = NewClient("", WithEndpoint(srv.URL)).Lookup(context.Background(), "9AB12345CD")
	require.ErrorIs(t, err, domain.ErrPaymentNotConfigured)
}

func TestClient_ValidateNotification(t *testing.T) {
	tx := Transaction{
		ID: "9AB12345CD", Status: PaymentCompleted, Invoice: "ORD-01HZX", Custom: "ORD-01HZX",
		Receiver: testBusiness, AmountMinor: 4500, Currency: "GBP",
	}
	body := []byte(tx.Form().Encode())

	tests := []struct {
		name   string
		answer string
		want   error
	}{
		{name: "verified", answer: "VERIFIED"},
		{name: "invalid", answer: "INVALID", want: ErrNotificationInvalid},
		{name: "garbage", answer: "<html>", want: domain.ErrPaymentProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeWebscr(t, nil, tt.answer)
			defer srv.Close()

			got, err := NewClient("", WithEndpoint(srv.URL)).ValidateNotification(context.Background(), body)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tx, got)
		})
	}
}

func TestClient_ProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient("pdt-token", WithEndpoint(srv.URL)).Lookup(context.Background(), "9AB12345CD")
	require.ErrorIs(t, err, domain.ErrPaymentProviderUnavailable)
}

func TestVerifyCompleted(t *testing.T) {
	order := testOrder()
	base := Transaction{
		ID: "TX1", Status: PaymentCompleted, Invoice: order.ID,
		Receiver: testBusiness, AmountMinor: order.AmountMinor, Currency: "GBP",
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{name: "completed", mutate: func(*Transaction) {}},
		{name: "custom when no invoice", mutate: func(tx *Transaction) { tx.Invoice, tx.Custom = "", order.ID }},
		{name: "merchant id", mutate: func(tx *Transaction) { tx.Receiver, tx.ReceiverID = "", testBusiness }},
		{name: "other order", mutate: func(tx *Transaction) { tx.Invoice = "ORD-OTHER" }, want: domain.ErrPaymentNotSucceeded},
		{name: "other merchant", mutate: func(tx *Transaction) { tx.Receiver = "buyer@example.com" }, want: domain.ErrPaymentNotSucceeded},
		{name: "pending echeck", mutate: func(tx *Transaction) { tx.Status, tx.PendingReason = PaymentPending, "echeck" }, want: domain.ErrPaymentNotSucceeded},
		{name: "short amount", mutate: func(tx *Transaction) { tx.AmountMinor = 1 }, want: domain.ErrPaymentAmountMismatch},
		{name: "other currency", mutate: func(tx *Transaction) { tx.Currency = "USD" }, want: domain.ErrPaymentAmountMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := base
			tt.mutate(&tx)
			err := VerifyCompleted(tx, order, testBusiness)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMockVerifier(t *testing.T) {
	mock := NewMockVerifier()
	_, err := mock.Lookup(context.Background(), "TX1")
	require.ErrorIs(t, err, domain.ErrPaymentNotSucceeded)

	tx := mock.Pay(testOrder(), testBusiness, "TX1")
	got, err := mock.Lookup(context.Background(), "TX1")
	require.NoError(t, err)
	require.Equal(t, tx, got)

	_, err = mock.ValidateNotification(context.Background(), []byte(tx.Form().Encode()))
	require.NoError(t, err)

	forged := tx
	forged.AmountMinor = 1
	_, err = mock.ValidateNotification(context.Background(), []byte(forged.Form().Encode()))
	require.ErrorIs(t, err, ErrNotificationInvalid)
}
