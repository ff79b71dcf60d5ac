package paypal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

const (
	pdtCommand = "_notify-synch"
	ipnCommand = "_notify-validate"

	defaultVerifyTimeout = 10 * time.Second
	maxVerifyResponse    = 64 << 10
	userAgent            = "charlesmackaybooks-shop"
)

// payment_status из PDT и IPN.
const (
	PaymentCompleted = "Completed"
	PaymentPending   = "Pending"
	PaymentDenied    = "Denied"
	PaymentFailed    = "Failed"
	PaymentVoided    = "Voided"
	PaymentExpired   = "Expired"
)

// ErrNotificationInvalid — PayPal не подтвердил IPN (ответ INVALID).
var ErrNotificationInvalid = errors.New("paypal notification is not verified")

// Transaction — платёж в том виде, в каком его вернул PayPal.
type Transaction struct {
	ID            string
	Status        string
	PendingReason string
	Invoice       string
	Custom        string
	Receiver      string
	ReceiverID    string
	AmountMinor   int64
	Currency      string
}

// OrderID — заказ, к которому привязан платёж: invoice, иначе custom.
func (t Transaction) OrderID() string {
	if t.Invoice != "" {
		return t.Invoice
	}
	return t.Custom
}

// Failed сообщает, что платёж окончательно не прошёл.
func (t Transaction) Failed() bool {
	switch t.Status {
	case PaymentDenied, PaymentFailed, PaymentVoided, PaymentExpired:
		return true
	default:
		return false
	}
}

// Verifier спрашивает о платеже сам PayPal.
type Verifier interface {
	// Lookup — PDT: данные транзакции по tx из адреса возврата.
	Lookup(ctx context.Context, txnID string) (Transaction, error)
	// ValidateNotification — IPN: тело уведомления возвращается PayPal на проверку.
	ValidateNotification(ctx context.Context, body []byte) (Transaction, error)
}

// VerifyCompleted сверяет транзакцию с заказом: завершена, выставлена на этот заказ
// этому мерчанту, на ту же сумму и в той же валюте.
func VerifyCompleted(tx Transaction, order domain.Order, business string) error {
	if tx.OrderID() != order.ID {
		return fmt.Errorf("%w: transaction %s belongs to order %q", domain.ErrPaymentNotSucceeded, tx.ID, tx.OrderID())
	}
	if business = strings.TrimSpace(business); business != "" &&
		!strings.EqualFold(tx.Receiver, business) && !strings.EqualFold(tx.ReceiverID, business) {
		return fmt.Errorf("%w: transaction %s paid to %q", domain.ErrPaymentNotSucceeded, tx.ID, tx.Receiver)
	}
	if tx.Status != PaymentCompleted {
		return fmt.Errorf("%w: transaction %s is %s", domain.ErrPaymentNotSucceeded, tx.ID, tx.Status)
	}
	if tx.AmountMinor != order.AmountMinor || !strings.EqualFold(tx.Currency, order.Currency) {
		return fmt.Errorf("%w: paid %s %s, order %s %s", domain.ErrPaymentAmountMismatch,
			pricing.Format(tx.AmountMinor), tx.Currency, pricing.Format(order.AmountMinor), order.Currency)
	}
	return nil
}

// VerifierOptions задаёт параметры Client.
type VerifierOptions struct {
	Logger     *log.Entry
	Metrics    *metrics.CheckoutMetrics
	HTTPClient *http.Client
	Endpoint   string
}

// VerifierOption настраивает Client.
type VerifierOption func(*VerifierOptions)

// WithVerifierLogger задаёт logger.
func WithVerifierLogger(logger *log.Entry) VerifierOption {
	return func(opts *VerifierOptions) { opts.Logger = logger }
}

// WithVerifierMetrics задаёт метрики вызовов PayPal.
func WithVerifierMetrics(m *metrics.CheckoutMetrics) VerifierOption {
	return func(opts *VerifierOptions) { opts.Metrics = m }
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) VerifierOption {
	return func(opts *VerifierOptions) { opts.HTTPClient = client }
}

// WithEndpoint задаёт адрес webscr (sandbox или тестовый сервер).
func WithEndpoint(endpoint string) VerifierOption {
	return func(opts *VerifierOptions) { opts.Endpoint = endpoint }
}

// Client проверяет платежи PayPal Standard через PDT и IPN.
type Client struct {
	endpoint      string
	identityToken string
	http          *http.Client
	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
}

// NewClient создаёт клиент. identityToken — PDT identity token мерчанта; без него
// Lookup недоступен, а платежи подтверждаются только через IPN.
func NewClient(identityToken string, options ...VerifierOption) *Client {
	opts := VerifierOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "paypal-verifier")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultVerifyTimeout}
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = DefaultBaseURL
	}
	return &Client{
		endpoint:      strings.TrimSpace(opts.Endpoint),
		identityToken: strings.TrimSpace(identityToken),
		http:          opts.HTTPClient,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

// Lookup запрашивает транзакцию через PDT. Ответ: первая строка SUCCESS или FAIL,
// затем строки key=value в url-кодировке.
func (c *Client) Lookup(ctx context.Context, txnID string) (Transaction, error) {
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return Transaction{}, fmt.Errorf("%w: paypal transaction id is missing", domain.ErrPaymentNotSucceeded)
	}
	if c.identityToken == "" {
		return Transaction{}, fmt.Errorf("%w: paypal pdt identity token is not set", domain.ErrPaymentNotConfigured)
	}

	form := url.Values{"cmd": {pdtCommand}, "tx": {txnID}, "at": {c.identityToken}}
	body, err := c.post(ctx, "pdt", form.Encode())
	if err != nil {
		return Transaction{}, err
	}

	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	if strings.TrimSpace(lines[0]) != "SUCCESS" {
		c.logger.WithField("txn_id", txnID).Info("paypal pdt did not confirm transaction")
		return Transaction{}, fmt.Errorf("%w: paypal did not confirm transaction %s", domain.ErrPaymentNotSucceeded, txnID)
	}
	values := url.Values{}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		key, _ = url.QueryUnescape(key)
		value, _ = url.QueryUnescape(value)
		values.Set(key, value)
	}
	return parseTransaction(values)
}

// ValidateNotification отправляет IPN обратно с cmd=_notify-validate. Поля транзакции
// берутся из уведомления только после ответа VERIFIED.
func (c *Client) ValidateNotification(ctx context.Context, body []byte) (Transaction, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", domain.ErrMessageInvalid, err)
	}

	resp, err := c.post(ctx, "ipn", "cmd="+ipnCommand+"&"+string(body))
	if err != nil {
		return Transaction{}, err
	}
	switch strings.TrimSpace(string(resp)) {
	case "VERIFIED":
	case "INVALID":
		return Transaction{}, ErrNotificationInvalid
	default:
		return Transaction{}, fmt.Errorf("%w: unexpected ipn answer", domain.ErrPaymentProviderUnavailable)
	}
	return parseTransaction(values)
}

func (c *Client) post(ctx context.Context, operation, form string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("build paypal %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	started := time.Now()
	body, err := c.do(req)
	if c.metrics != nil {
		c.metrics.ObserveProvider(domain.PaymentProviderPayPal, operation, err, time.Since(started))
	}
	if err != nil {
		c.logger.WithError(err).WithField("operation", operation).Warn("paypal verification call failed")
		return nil, err
	}
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: paypal answered %d", domain.ErrPaymentProviderUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentProviderUnavailable, err)
	}
	return body, nil
}

func parseTransaction(values url.Values) (Transaction, error) {
	tx := Transaction{
		ID:            strings.TrimSpace(values.Get("txn_id")),
		Status:        strings.TrimSpace(values.Get("payment_status")),
		PendingReason: values.Get("pending_reason"),
		Invoice:       strings.TrimSpace(values.Get("invoice")),
		Custom:        strings.TrimSpace(values.Get("custom")),
		Receiver:      strings.TrimSpace(values.Get("receiver_email")),
		ReceiverID:    strings.TrimSpace(values.Get("receiver_id")),
		Currency:      strings.ToUpper(strings.TrimSpace(values.Get("mc_currency"))),
	}
	if tx.ID == "" {
		return Transaction{}, fmt.Errorf("%w: txn_id is missing", domain.ErrMessageInvalid)
	}
	if gross := strings.TrimSpace(values.Get("mc_gross")); gross != "" {
		amount, err := pricing.ParseAmount(gross)
		if err != nil {
			return Transaction{}, fmt.Errorf("%w: mc_gross %q", domain.ErrMessageInvalid, gross)
		}
		tx.AmountMinor = amount
	}
	return tx, nil
}
