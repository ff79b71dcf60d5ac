// Package stripe реализует шлюз к Stripe PaymentIntents и разбор вебхуков.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	sdk "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
)

const (
	metadataOrderID = "order_id"
	metadataItems   = "items"
	// лимит Stripe на значение metadata
	maxMetadataValue = 500
)

// IntentParams — данные для создания PaymentIntent. Сумма уже пересчитана сервером.
type IntentParams struct {
	OrderID       string
	AmountMinor   int64
	Currency      string
	CustomerEmail string
	Items         []domain.OrderItem
}

// Gateway — операции Stripe, которые нужны оформлению.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, params IntentParams) (domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (domain.PaymentIntent, error)
}

// Options задаёт параметры клиента.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.CheckoutMetrics
	Backend sdk.Backend
}

// Option настраивает Client.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики вызовов провайдера.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithBackend подменяет HTTP backend SDK (тесты, stripe-mock).
func WithBackend(backend sdk.Backend) Option {
	return func(opts *Options) { opts.Backend = backend }
}

// Client — Gateway поверх stripe-go.
type Client struct {
	api        *client.API
	configured bool
	logger     *log.Entry
	metrics    *metrics.CheckoutMetrics
}

// NewClient создаёт клиент. Пустой secretKey даёт клиента, который отвечает ErrPaymentNotConfigured.
func NewClient(secretKey string, options ...Option) *Client {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "stripe-gateway")
	}

	secretKey = strings.TrimSpace(secretKey)
	api := &client.API{}
	var backends *sdk.Backends
	if opts.Backend != nil {
		backends = &sdk.Backends{API: opts.Backend, Connect: opts.Backend, Uploads: opts.Backend}
	}
	api.Init(secretKey, backends)

	return &Client{
		api:        api,
		configured: secretKey != "",
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Configured сообщает, задан ли секретный ключ.
func (c *Client) Configured() bool { return c.configured }

// CreatePaymentIntent создаёт PaymentIntent. Ключом идемпотентности Stripe служит ID заказа,
// повторный вызов для того же заказа вернёт тот же intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, params IntentParams) (domain.PaymentIntent, error) {
	if !c.configured {
		return domain.PaymentIntent{}, domain.ErrPaymentNotConfigured
	}
	if strings.TrimSpace(params.OrderID) == "" {
		return domain.PaymentIntent{}, domain.ErrOrderIDRequired
	}
	if params.AmountMinor <= 0 {
		return domain.PaymentIntent{}, domain.ErrAmountNegative
	}

	sp := &sdk.PaymentIntentParams{
		Amount:   sdk.Int64(params.AmountMinor),
		Currency: sdk.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &sdk.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: sdk.Bool(true),
		},
		Description: sdk.String("Order " + params.OrderID),
	}
	if email := strings.TrimSpace(params.CustomerEmail); email != "" {
		sp.ReceiptEmail = sdk.String(email)
	}
	sp.Context = ctx
	sp.SetIdempotencyKey(params.OrderID)
	sp.AddMetadata(metadataOrderID, params.OrderID)
	if summary := ItemSummary(params.Items); summary != "" {
		sp.AddMetadata(metadataItems, summary)
	}

	started := time.Now()
	pi, err := c.api.PaymentIntents.New(sp)
	c.observe("create_intent", err, started)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", params.OrderID).Error("create payment intent failed")
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s", domain.ErrPaymentProviderUnavailable, describe(err))
	}

	c.logger.WithFields(log.Fields{
		"order_id":  params.OrderID,
		"intent_id": pi.ID,
	}).Info("payment intent created")
	return fromSDK(pi), nil
}

// GetPaymentIntent читает актуальное состояние intent у Stripe.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	if !c.configured {
		return domain.PaymentIntent{}, domain.ErrPaymentNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PaymentIntent{}, fmt.Errorf("%w: payment intent id is required", domain.ErrPaymentNotSucceeded)
	}

	sp := &sdk.PaymentIntentParams{}
	sp.Context = ctx

	started := time.Now()
	pi, err := c.api.PaymentIntents.Get(id, sp)
	c.observe("get_intent", err, started)
	if err != nil {
		c.logger.WithError(err).WithField("intent_id", id).Error("get payment intent failed")
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s", domain.ErrPaymentProviderUnavailable, describe(err))
	}
	return fromSDK(pi), nil
}

func (c *Client) observe(operation string, err error, started time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveProvider(domain.PaymentProviderStripe, operation, err, time.Since(started))
	}
}

// ItemSummary строит краткое описание позиций для metadata: "2x Title; 1x Title".
func ItemSummary(items []domain.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Qty, item.Title))
	}
	summary := strings.Join(parts, "; ")
	if len(summary) > maxMetadataValue {
		cut := maxMetadataValue - len("...")
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut] + "..."
	}
	return summary
}

func fromSDK(pi *sdk.PaymentIntent) domain.PaymentIntent {
	if pi == nil {
		return domain.PaymentIntent{}
	}
	intent := domain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		OrderID:      pi.Metadata[metadataOrderID],
		Status:       domain.PaymentIntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
	}
	if pi.LastPaymentError != nil {
		intent.LastError = pi.LastPaymentError.Msg
	}
	return intent
}

func describe(err error) string {
	var stripeErr *sdk.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Msg != "" {
			return string(stripeErr.Type) + ": " + stripeErr.Msg
		}
		return string(stripeErr.Type)
	}
	return err.Error()
}

// VerifySucceeded проверяет, что intent создан для этого заказа и оплачен ровно на его сумму.
func VerifySucceeded(intent domain.PaymentIntent, order domain.Order) error {
	if intent.OrderID != order.ID {
		return fmt.Errorf("%w: intent %s belongs to order %q", domain.ErrPaymentNotSucceeded, intent.ID, intent.OrderID)
	}
	if intent.Status != domain.PaymentIntentSucceeded {
		if intent.LastError != "" {
			return fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, intent.LastError)
		}
		return fmt.Errorf("%w: status %s", domain.ErrPaymentNotSucceeded, intent.Status)
	}
	if intent.AmountMinor != order.AmountMinor || !strings.EqualFold(intent.Currency, order.Currency) {
		return fmt.Errorf("%w: charged %d %s, order %d %s", domain.ErrPaymentAmountMismatch,
			intent.AmountMinor, intent.Currency, order.AmountMinor, order.Currency)
	}
	return nil
}

var _ Gateway = (*Client)(nil)
