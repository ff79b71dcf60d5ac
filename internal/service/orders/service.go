package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

const (
	defaultCurrency = "GBP"
	aggregateOrder  = "order"

	maxSaveAttempts = 3
	baseRetryDelay  = 10 * time.Millisecond
)

// ItemRequest — позиция, которую прислал клиент: только книга и количество.
// Цена, название и вес берутся из каталога.
type ItemRequest struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

// CreateOrderInput — параметры создания pending-заказа.
type CreateOrderInput struct {
	Items       []ItemRequest
	Customer    domain.CustomerDetails
	Provider    domain.PaymentProvider
	ProviderRef string
	// OrderID задаётся, если идентификатор уже выдан клиенту, иначе генерируется.
	OrderID string
}

// Options задаёт зависимости сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.CheckoutMetrics
	Currency string
	Now      func() time.Time
	NewID    func() string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithCurrency задаёт валюту магазина.
func WithCurrency(currency string) Option {
	return func(opts *Options) { opts.Currency = currency }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) { opts.NewID = newID }
}

// Service управляет жизненным циклом заказа: pending -> paid | failed | cancelled.
// Все записи идут через один OrderRepository.
type Service struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	catalog  domain.BookCatalog
	calc     *pricing.Calculator

	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	currency string
	now      func() time.Time
	newID    func() string
}

// NewService создаёт сервис заказов. timeline и outbox могут быть nil.
func NewService(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	catalog domain.BookCatalog,
	calc *pricing.Calculator,
	options ...Option,
) *Service {
	opts := Options{Currency: defaultCurrency}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "orders")
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = defaultCurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = checkout.GenerateOrderID
	}
	if calc == nil {
		calc = pricing.DefaultCalculator()
	}

	return &Service{
		orders:   orders,
		timeline: timeline,
		outbox:   outbox,
		catalog:  catalog,
		calc:     calc,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		currency: strings.ToUpper(strings.TrimSpace(opts.Currency)),
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Currency возвращает валюту магазина.
func (s *Service) Currency() string { return s.currency }

// Quote пересчитывает итоги по ценам каталога, ничего не сохраняя.
func (s *Service) Quote(items []ItemRequest, country string) ([]domain.OrderItem, pricing.Totals, error) {
	if len(items) == 0 {
		return nil, pricing.Totals{}, domain.ErrCartEmpty
	}

	merged := make([]ItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.BookID)
		if item.Quantity <= 0 {
			return nil, pricing.Totals{}, fmt.Errorf("%w: book %s", domain.ErrItemQtyInvalid, id)
		}
		if i, ok := index[id]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, ItemRequest{BookID: id, Quantity: item.Quantity})
	}

	orderItems := make([]domain.OrderItem, 0, len(merged))
	lines := make([]pricing.Line, 0, len(merged))
	for _, item := range merged {
		book, err := s.catalog.Get(item.BookID)
		if err != nil {
			return nil, pricing.Totals{}, err
		}
		orderItems = append(orderItems, domain.OrderItem{
			BookID:     book.ID,
			Title:      book.Title,
			ISBN:       book.ISBN,
			Qty:        int32(item.Quantity),
			PriceMinor: book.PriceMinor,
		})
		lines = append(lines, pricing.LineFromBook(book, item.Quantity))
	}

	return orderItems, s.calc.Calculate(lines, country), nil
}

// CreateOrder создаёт pending-заказ. Итоги считаются по каталогу в момент вызова,
// суммы клиента не принимаются.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if msgs := checkout.ValidateCustomerDetails(in.Customer); len(msgs) > 0 {
		return domain.Order{}, &domain.ValidationError{Messages: msgs}
	}
	if !in.Provider.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrPaymentProviderUnknown, in.Provider)
	}

	customer := in.Customer.Normalized()
	items, totals, err := s.Quote(in.Items, customer.Country)
	if err != nil {
		return domain.Order{}, err
	}

	id := strings.TrimSpace(in.OrderID)
	if id == "" {
		id = s.newID()
	}
	now := s.now().UTC()
	order := domain.Order{
		ID:            id,
		Customer:      customer,
		Items:         items,
		Currency:      s.currency,
		SubtotalMinor: totals.SubtotalMinor,
		DiscountMinor: totals.DiscountMinor,
		ShippingMinor: totals.ShippingMinor,
		AmountMinor:   totals.TotalMinor,
		Status:        domain.OrderStatusPending,
		Provider:      in.Provider,
		ProviderRef:   strings.TrimSpace(in.ProviderRef),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("create order failed")
		return domain.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated(order.Provider)
	}
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"provider":     order.Provider,
		"amount_minor": order.AmountMinor,
		"items":        len(order.Items),
	}).Info("order created")

	s.emitEvent(ctx, order, domain.EventOrderCreated, map[string]interface{}{
		"provider":     order.Provider,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
		"ts":           order.CreatedAt.Format(time.RFC3339Nano),
	})
	return order, nil
}

// ConfirmPayment переводит pending -> paid. Для уже оплаченного заказа возвращает его без побочных эффектов.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, providerRef string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusPaid, "", func(order *domain.Order) {
		if ref := strings.TrimSpace(providerRef); ref != "" {
			order.ProviderRef = ref
		}
	})
}

// FailPayment переводит pending -> failed с причиной от провайдера.
func (s *Service) FailPayment(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusFailed, reason, func(order *domain.Order) {
		order.FailureReason = strings.TrimSpace(reason)
	})
}

// CancelPayment переводит pending -> cancelled (покупатель отказался от оплаты).
func (s *Service) CancelPayment(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, reason, func(order *domain.Order) {
		order.FailureReason = strings.TrimSpace(reason)
	})
}

// AttachProviderRef запоминает идентификатор у провайдера (PaymentIntent) для pending-заказа.
func (s *Service) AttachProviderRef(ctx context.Context, orderID, providerRef string) (domain.Order, error) {
	providerRef = strings.TrimSpace(providerRef)
	for attempt := 0; ; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.ProviderRef == providerRef {
			return order, nil
		}
		if order.Status != domain.OrderStatusPending {
			return order, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, order.ID, order.Status)
		}

		order.ProviderRef = providerRef
		order.UpdatedAt = s.now().UTC()
		err = s.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if retryErr := s.backoff(ctx, orderID, attempt, err); retryErr != nil {
			return domain.Order{}, retryErr
		}
	}
}

// SaveOrder сохраняет заказ целиком: создаёт новый или перезаписывает существующий по ID.
func (s *Service) SaveOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, order.Status)
	}
	now := s.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	for attempt := 0; ; attempt++ {
		current, err := s.orders.Get(ctx, order.ID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			order.Version = 0
			err = s.orders.Create(ctx, order)
			if errors.Is(err, domain.ErrOrderAlreadyExists) {
				// параллельный Create, следующая попытка пойдёт через Save
				err = domain.ErrOrderVersionConflict
			}
		case err != nil:
			return domain.Order{}, err
		default:
			order.Version = current.Version
			err = s.orders.Save(ctx, order)
			if err == nil {
				order.Version++
			}
		}

		if err == nil {
			s.emitEvent(ctx, order, domain.EventOrderSaved, map[string]interface{}{
				"status": order.Status,
				"ts":     order.UpdatedAt.Format(time.RFC3339Nano),
			})
			return order, nil
		}
		if retryErr := s.backoff(ctx, order.ID, attempt, err); retryErr != nil {
			return domain.Order{}, retryErr
		}
	}
}

// Get возвращает заказ по ID.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.orders.Get(ctx, orderID)
}

// Timeline возвращает события заказа по времени.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(ctx, orderID)
}

// ListByEmail возвращает заказы покупателя, новые первыми.
func (s *Service) ListByEmail(ctx context.Context, email string, limit int) ([]domain.Order, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.ErrCustomerRequired
	}
	return s.orders.ListByEmail(ctx, email, limit)
}

// transition меняет статус с retry при конфликте версий (до maxSaveAttempts, backoff 10ms * 2^n).
func (s *Service) transition(
	ctx context.Context,
	orderID string,
	target domain.OrderStatus,
	reason string,
	mutate func(*domain.Order),
) (domain.Order, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == target {
			return order, nil
		}
		if !order.Status.CanTransition(target) {
			return order, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
		}

		previous := order.Status
		order.Status = target
		order.UpdatedAt = s.now().UTC()
		if mutate != nil {
			mutate(&order)
		}

		err = s.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"from":     previous,
				"to":       target,
			}).Info("order status changed")
			if s.metrics != nil {
				s.metrics.RecordOrderFinalized(order)
			}
			s.emitStatusEvent(ctx, order, reason)
			return order, nil
		}
		if retryErr := s.backoff(ctx, orderID, attempt, err); retryErr != nil {
			return domain.Order{}, retryErr
		}
	}
}

// backoff решает, повторять ли попытку после ошибки сохранения, и выжидает паузу.
func (s *Service) backoff(ctx context.Context, orderID string, attempt int, err error) error {
	if !domain.IsVersionConflict(err) || attempt >= maxSaveAttempts-1 {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
		}).Error("failed to persist order")
		return err
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"attempt":  attempt + 1,
	}).Warn("version conflict detected, retrying")

	timer := time.NewTimer(baseRetryDelay * time.Duration(1<<uint(attempt)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func statusEvent(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusPaid:
		return domain.EventOrderPaid
	case domain.OrderStatusFailed:
		return domain.EventOrderFailed
	case domain.OrderStatusCancelled:
		return domain.EventOrderCancelled
	default:
		return domain.EventOrderSaved
	}
}

func (s *Service) emitStatusEvent(ctx context.Context, order domain.Order, reason string) {
	payload := map[string]interface{}{
		"status":       order.Status,
		"provider":     order.Provider,
		"provider_ref": order.ProviderRef,
		"amount_minor": order.AmountMinor,
		"ts":           order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		payload["reason"] = reason
	}
	s.emitEvent(ctx, order, statusEvent(order.Status), payload)
}

// emitEvent кладёт событие в outbox и timeline. Ошибки логируются: статус заказа уже сохранён.
func (s *Service) emitEvent(ctx context.Context, order domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID

	fields := log.Fields{"order_id": order.ID, "event": eventType}

	if s.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}); err != nil {
			s.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else if s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline == nil {
		return
	}
	reason, _ := payload["reason"].(string)
	occurred := order.UpdatedAt
	if ts, ok := payload["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			occurred = parsed
		}
	}
	if occurred.IsZero() {
		occurred = s.now().UTC()
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
	} else if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}
