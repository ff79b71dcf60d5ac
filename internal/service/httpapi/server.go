// Package httpapi реализует JSON API магазина поверх gin.
package httpapi

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/catalog"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/orders"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payments"
)

const (
	// SessionCookie — cookie с идентификатором сессии покупателя.
	SessionCookie = "shop_session"

	defaultSessionMaxAge  = 2 * time.Hour
	defaultIdempotencyTTL = 24 * time.Hour
	defaultResultWait     = 25 * time.Second
	maxResultWait         = 60 * time.Second
	maxWebhookBody        = 64 << 10
	maxLookupOrders       = 20
)

// Options задаёт необязательные зависимости API.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.HTTPMetrics
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	SessionMaxAge  time.Duration
	SecureCookies  bool
	Now            func() time.Time
}

// Option настраивает Handler.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithHTTPMetrics включает метрики запросов.
func WithHTTPMetrics(m *metrics.HTTPMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithIdempotency включает обработку Idempotency-Key на создании платежа.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(opts *Options) {
		opts.Idempotency = repo
		opts.IdempotencyTTL = ttl
	}
}

// WithSessionMaxAge задаёт срок жизни cookie сессии.
func WithSessionMaxAge(d time.Duration) Option {
	return func(opts *Options) { opts.SessionMaxAge = d }
}

// WithSecureCookies выставляет флаг Secure у cookie (магазин за https).
func WithSecureCookies(secure bool) Option {
	return func(opts *Options) { opts.SecureCookies = secure }
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Handler обслуживает /api.
type Handler struct {
	catalog  *catalog.Catalog
	sessions *checkout.Sessions
	orders   *orders.Service
	payments *payments.Coordinator

	logger         *log.Entry
	metrics        *metrics.HTTPMetrics
	idem           domain.IdempotencyRepository
	idemTTL        time.Duration
	sessionMaxAge  time.Duration
	secureCookies  bool
	now            func() time.Time
	returnTemplate *template.Template
}

// NewHandler создаёт API.
func NewHandler(
	books *catalog.Catalog,
	sessions *checkout.Sessions,
	svc *orders.Service,
	coord *payments.Coordinator,
	options ...Option,
) *Handler {
	opts := Options{
		IdempotencyTTL: defaultIdempotencyTTL,
		SessionMaxAge:  defaultSessionMaxAge,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.SessionMaxAge <= 0 {
		opts.SessionMaxAge = defaultSessionMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Handler{
		catalog:        books,
		sessions:       sessions,
		orders:         svc,
		payments:       coord,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		idem:           opts.Idempotency,
		idemTTL:        opts.IdempotencyTTL,
		sessionMaxAge:  opts.SessionMaxAge,
		secureCookies:  opts.SecureCookies,
		now:            opts.Now,
		returnTemplate: template.Must(template.New(returnTemplateName).Parse(returnPageHTML)),
	}
}

// Router собирает gin.Engine со всеми маршрутами.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(h.returnTemplate)
	r.Use(h.recovery(), h.requestLogger(), h.observe())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	api := r.Group("/api")

	// Провайдеры приходят без cookie.
	api.POST("/webhooks/stripe", h.stripeWebhook)
	api.POST("/webhooks/paypal", h.payPalNotification)

	shop := api.Group("", h.session())
	shop.GET("/books", h.listBooks)
	shop.GET("/books/:id", h.getBook)

	shop.GET("/cart", h.getCart)
	shop.POST("/cart/items", h.addCartItem)
	shop.PUT("/cart/items/:book_id", h.updateCartItem)
	shop.DELETE("/cart/items/:book_id", h.removeCartItem)
	shop.DELETE("/cart", h.clearCart)

	shop.GET("/checkout", h.getCheckout)
	shop.POST("/checkout/next", h.checkoutNext)
	shop.POST("/checkout/back", h.checkoutBack)
	shop.POST("/checkout/address", h.checkoutAddress)
	shop.POST("/checkout/reset", h.checkoutReset)

	shop.POST("/payments/stripe/intent", h.idempotent("stripe.intent"), h.createStripeIntent)
	shop.POST("/payments/stripe/confirm", h.confirmStripe)

	shop.POST("/payments/paypal/start", h.startPayPal)
	shop.GET("/payments/paypal/return", h.payPalReturn)
	shop.GET("/payments/paypal/cancel", h.payPalReturn)
	shop.POST("/payments/paypal/messages", h.payPalMessage)
	shop.GET("/payments/paypal/orders/:id/result", h.payPalResult)
	shop.POST("/payments/paypal/orders/:id/closed", h.payPalClosed)

	shop.GET("/orders/lookup", h.lookupOrders)
	shop.GET("/orders/:id", h.getOrder)
	shop.GET("/confirmation", h.getConfirmation)

	return r
}

func trimmed(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
