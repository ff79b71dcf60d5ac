package paypal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
)

const (
	defaultPollInterval    = time.Second
	defaultSubscriptionTTL = 30 * time.Minute
	defaultSweepInterval   = time.Minute
)

// ErrSubscriptionClosed — подписка закрыта до получения результата.
var ErrSubscriptionClosed = errors.New("paypal subscription closed")

// Subscription ждёт результат оплаты одного заказа.
// Первое принятое сообщение фиксируется; повторный Wait вернёт его же.
type Subscription struct {
	OrderID string

	hub       *Hub
	createdAt time.Time

	mu        sync.Mutex
	result    *Message
	delivered chan struct{}

	popupClosed atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
}

// Wait возвращает первое сообщение, ErrPopupClosed, если окно закрыли без результата,
// либо ошибку ctx. Признак закрытия окна проверяется раз в PollInterval.
func (s *Subscription) Wait(ctx context.Context) (Message, error) {
	if msg, ok := s.Result(); ok {
		return msg, nil
	}

	ticker := time.NewTicker(s.hub.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.delivered:
			msg, _ := s.Result()
			return msg, nil
		case <-s.done:
			if msg, ok := s.Result(); ok {
				return msg, nil
			}
			return Message{}, ErrSubscriptionClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-ticker.C:
			if !s.popupClosed.Load() {
				continue
			}
			// сообщение могло прийти прямо перед закрытием окна
			if msg, ok := s.Result(); ok {
				return msg, nil
			}
			return Message{}, domain.ErrPopupClosed
		}
	}
}

// Result возвращает принятое сообщение, если оно уже есть.
func (s *Subscription) Result() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Message{}, false
	}
	return *s.result, true
}

// PopupClosed помечает, что покупатель закрыл окно.
func (s *Subscription) PopupClosed() { s.popupClosed.Store(true) }

// Close отписывает слушателя; повторные вызовы безопасны.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *Subscription) deliver(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return false
	}
	s.result = &msg
	close(s.delivered)
	return true
}

// HubOptions задаёт параметры Hub.
type HubOptions struct {
	Logger          *log.Entry
	Metrics         *metrics.CheckoutMetrics
	PollInterval    time.Duration
	SubscriptionTTL time.Duration
	SweepInterval   time.Duration
	Now             func() time.Time
}

// HubOption настраивает Hub.
type HubOption func(*HubOptions)

// WithHubLogger задаёт logger.
func WithHubLogger(logger *log.Entry) HubOption {
	return func(opts *HubOptions) { opts.Logger = logger }
}

// WithHubMetrics задаёт метрики сообщений.
func WithHubMetrics(m *metrics.CheckoutMetrics) HubOption {
	return func(opts *HubOptions) { opts.Metrics = m }
}

// WithPollInterval задаёт период проверки закрытия окна.
func WithPollInterval(d time.Duration) HubOption {
	return func(opts *HubOptions) { opts.PollInterval = d }
}

// WithSubscriptionTTL задаёт срок жизни забытой подписки.
func WithSubscriptionTTL(d time.Duration) HubOption {
	return func(opts *HubOptions) { opts.SubscriptionTTL = d }
}

// WithHubSweepInterval задаёт период очистки.
func WithHubSweepInterval(d time.Duration) HubOption {
	return func(opts *HubOptions) { opts.SweepInterval = d }
}

// WithHubClock подменяет часы.
func WithHubClock(now func() time.Time) HubOption {
	return func(opts *HubOptions) { opts.Now = now }
}

// Hub — реестр подписок по заказам. Принимает сообщения только от разрешённых origin.
type Hub struct {
	policy OriginPolicy

	mu   sync.Mutex
	subs map[string]*Subscription

	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
	pollInterval  time.Duration
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// NewHub создаёт hub.
func NewHub(policy OriginPolicy, options ...HubOption) *Hub {
	opts := HubOptions{
		PollInterval:    defaultPollInterval,
		SubscriptionTTL: defaultSubscriptionTTL,
		SweepInterval:   defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "paypal-hub")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SubscriptionTTL <= 0 {
		opts.SubscriptionTTL = defaultSubscriptionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		policy:        policy,
		subs:          make(map[string]*Subscription),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		pollInterval:  opts.PollInterval,
		ttl:           opts.SubscriptionTTL,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
	}
}

// Policy возвращает политику origin.
func (h *Hub) Policy() OriginPolicy { return h.policy }

// Subscribe регистрирует слушателя для заказа. Предыдущая подписка того же заказа закрывается.
func (h *Hub) Subscribe(orderID string) *Subscription {
	orderID = strings.TrimSpace(orderID)
	sub := &Subscription{
		OrderID:   orderID,
		hub:       h,
		createdAt: h.now(),
		delivered: make(chan struct{}),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	previous := h.subs[orderID]
	h.subs[orderID] = sub
	h.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return sub
}

// Lookup возвращает активную подписку заказа.
func (h *Hub) Lookup(orderID string) (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[strings.TrimSpace(orderID)]
	return sub, ok
}

// Accept проверяет origin и состав сообщения, ничего не доставляя.
// Принятое сообщение указывает лишь заказ: успех оплаты им не доказывается.
func (h *Hub) Accept(origin string, msg Message) error {
	if err := h.policy.Check(origin); err != nil {
		h.record(msg.Type, "rejected_origin")
		h.logger.WithFields(log.Fields{
			"origin":   origin,
			"order_id": msg.OrderID,
		}).Warn("paypal message from untrusted origin dropped")
		return err
	}
	if err := msg.Validate(); err != nil {
		h.record(msg.Type, "invalid")
		return err
	}
	return nil
}

// Deliver проверяет origin и сообщение и передаёт его подписке заказа.
// Возвращает false, если подписки нет или результат уже был принят.
func (h *Hub) Deliver(origin string, msg Message) (bool, error) {
	if err := h.Accept(origin, msg); err != nil {
		return false, err
	}

	sub, ok := h.Lookup(msg.OrderID)
	if !ok {
		h.record(msg.Type, "no_listener")
		return false, nil
	}
	if !sub.deliver(msg) {
		h.record(msg.Type, "duplicate")
		return false, nil
	}
	h.record(msg.Type, "delivered")
	return true, nil
}

// PopupClosed помечает окно заказа закрытым.
func (h *Hub) PopupClosed(orderID string) bool {
	sub, ok := h.Lookup(orderID)
	if !ok {
		return false
	}
	sub.PopupClosed()
	return true
}

// Len — число активных подписок.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Sweep закрывает подписки старше TTL.
func (h *Hub) Sweep() int {
	now := h.now()

	h.mu.Lock()
	expired := make([]*Subscription, 0)
	for _, sub := range h.subs {
		if now.Sub(sub.createdAt) > h.ttl {
			expired = append(expired, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range expired {
		sub.Close()
	}
	return len(expired)
}

// Run периодически вызывает Sweep до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				h.logger.WithField("closed", n).Debug("stale paypal subscriptions closed")
			}
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sub.OrderID] == sub {
		delete(h.subs, sub.OrderID)
	}
}

func (h *Hub) record(t MessageType, result string) {
	if h.metrics != nil {
		h.metrics.RecordPayPalMessage(string(t), result)
	}
}
