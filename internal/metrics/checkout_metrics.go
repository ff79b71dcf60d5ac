// Package metrics содержит Prometheus-метрики оформления заказов и HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// CheckoutMetrics — метрики заказов, оплат и сессий.
type CheckoutMetrics struct {
	ordersCreated   *prometheus.CounterVec
	ordersByOutcome *prometheus.CounterVec
	orderAmount     *prometheus.HistogramVec
	providerLatency *prometheus.HistogramVec
	paypalMessages  *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeSessions prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в default registry.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		ordersCreated: counterVec(registerer, prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Total number of pending orders created at the payment step.",
		}, "provider"),
		ordersByOutcome: counterVec(registerer, prometheus.CounterOpts{
			Name: "shop_orders_finalized_total",
			Help: "Total number of orders that reached a final status.",
		}, "provider", "status"),
		orderAmount: histogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_amount_gbp",
			Help:    "Paid order totals in pounds.",
			Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 100, 200},
		}, "provider"),
		providerLatency: histogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_payment_provider_duration_seconds",
			Help:    "Latency of payment provider calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, "provider", "operation", "result"),
		paypalMessages: counterVec(registerer, prometheus.CounterOpts{
			Name: "shop_paypal_messages_total",
			Help: "PayPal popup messages grouped by type and handling result.",
		}, "type", "result"),
		timelineEvents: counter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of order timeline events recorded.",
		}),
		outboxEvents: counter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of order events enqueued to the outbox.",
		}),
		activeSessions: gauge(registerer, prometheus.GaugeOpts{
			Name: "shop_checkout_sessions_active",
			Help: "Number of live checkout sessions.",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *CheckoutMetrics) RecordOrderCreated(provider domain.PaymentProvider) {
	m.ordersCreated.WithLabelValues(string(provider)).Inc()
}

// RecordOrderFinalized учитывает финальный статус; для paid пишет сумму.
func (m *CheckoutMetrics) RecordOrderFinalized(order domain.Order) {
	m.ordersByOutcome.WithLabelValues(string(order.Provider), string(order.Status)).Inc()
	if order.Status == domain.OrderStatusPaid {
		m.orderAmount.WithLabelValues(string(order.Provider)).Observe(float64(order.AmountMinor) / 100)
	}
}

// ObserveProvider записывает латентность вызова провайдера.
func (m *CheckoutMetrics) ObserveProvider(provider domain.PaymentProvider, operation string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerLatency.WithLabelValues(string(provider), operation, result).Observe(d.Seconds())
}

// RecordPayPalMessage учитывает сообщение из popup.
func (m *CheckoutMetrics) RecordPayPalMessage(messageType, result string) {
	m.paypalMessages.WithLabelValues(messageType, result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() { m.timelineEvents.Inc() }

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() { m.outboxEvents.Inc() }

// ActiveSessions — gauge для реестра сессий.
func (m *CheckoutMetrics) ActiveSessions() prometheus.Gauge { return m.activeSessions }
