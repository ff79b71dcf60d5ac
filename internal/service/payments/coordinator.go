// Package payments связывает мастер оформления, сервис заказов и платёжных провайдеров.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/orders"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/stripe"
)

// Сообщения покупателю. Внутренние детали ошибок наружу не отдаются.
const (
	MsgInitFailed     = "failed to initialize payment, please try again"
	MsgPayPalCancel   = "Your PayPal payment was cancelled. You can try again or contact us if you need help."
	MsgPayPalError    = "There was a problem with your PayPal payment. Please try again or contact us."
	MsgPayPalClosed   = "The PayPal window was closed before the payment was completed. Please try again."
	MsgCardNotCharged = "Your payment was not completed. Please check your card details and try again."
)

// StripeStart — ответ на создание PaymentIntent.
type StripeStart struct {
	ClientSecret string `json:"client_secret"`
	OrderID      string `json:"order_id"`
	AmountMinor  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// PayPalStart — ссылка для popup-окна.
type PayPalStart struct {
	OrderID string       `json:"order_id"`
	URL     string       `json:"url"`
	Popup   paypal.Popup `json:"popup"`
}

// Options задаёт зависимости координатора.
type Options struct {
	Logger         *log.Entry
	PayPalVerifier paypal.Verifier
}

// Option настраивает Coordinator.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithPayPalVerifier задаёт проверку платежей у PayPal. Без неё PayPal-заказы
// не переходят в paid.
func WithPayPalVerifier(v paypal.Verifier) Option {
	return func(opts *Options) { opts.PayPalVerifier = v }
}

// Coordinator ведёт шаг оплаты: создаёт pending-заказ, обращается к провайдеру
// и по результату завершает мастер либо оставляет покупателя на шаге оплаты.
type Coordinator struct {
	orders  *orders.Service
	stripe  stripe.Gateway
	webhook *stripe.WebhookVerifier
	paypal  *paypal.URLBuilder
	hub     *paypal.Hub
	signer  *paypal.TokenSigner
	checker paypal.Verifier
	logger  *log.Entry
}

// NewCoordinator создаёт координатор. Провайдер без конфигурации отвечает ErrPaymentNotConfigured.
func NewCoordinator(
	svc *orders.Service,
	gateway stripe.Gateway,
	webhook *stripe.WebhookVerifier,
	builder *paypal.URLBuilder,
	hub *paypal.Hub,
	signer *paypal.TokenSigner,
	options ...Option,
) *Coordinator {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "payments")
	}
	return &Coordinator{
		orders:  svc,
		stripe:  gateway,
		webhook: webhook,
		paypal:  builder,
		hub:     hub,
		signer:  signer,
		checker: opts.PayPalVerifier,
		logger:  opts.Logger,
	}
}

// Hub возвращает реестр PayPal-подписок.
func (c *Coordinator) Hub() *paypal.Hub { return c.hub }

// StartStripe создаёт (или переиспользует) pending-заказ сессии и PaymentIntent под него.
func (c *Coordinator) StartStripe(ctx context.Context, session *checkout.Session) (StripeStart, error) {
	if c.stripe == nil {
		return StripeStart{}, domain.ErrPaymentNotConfigured
	}

	session.Lock()
	defer session.Unlock()

	order, err := c.pendingOrder(ctx, session, domain.PaymentProviderStripe)
	if err != nil {
		return StripeStart{}, err
	}

	intent, err := c.stripe.CreatePaymentIntent(ctx, stripe.IntentParams{
		OrderID:       order.ID,
		AmountMinor:   order.AmountMinor,
		Currency:      order.Currency,
		CustomerEmail: order.Customer.Email,
		Items:         order.Items,
	})
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("stripe payment intent failed")
		return StripeStart{}, err
	}
	if _, err := c.orders.AttachProviderRef(ctx, order.ID, intent.ID); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("attach payment intent to order failed")
	}

	return StripeStart{
		ClientSecret: intent.ClientSecret,
		OrderID:      order.ID,
		AmountMinor:  order.AmountMinor,
		Currency:     order.Currency,
	}, nil
}

// ConfirmStripe проверяет сообщённый клиентом успех у самого Stripe и подтверждает заказ.
// Отказ оставляет мастер на шаге оплаты с сообщением, корзина не трогается.
func (c *Coordinator) ConfirmStripe(ctx context.Context, session *checkout.Session, orderID, intentID string) (domain.Order, error) {
	if c.stripe == nil {
		return domain.Order{}, domain.ErrPaymentNotConfigured
	}

	session.Lock()
	defer session.Unlock()

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusPaid {
		c.complete(session, order)
		return order, nil
	}
	if strings.TrimSpace(intentID) == "" {
		intentID = order.ProviderRef
	}

	intent, err := c.stripe.GetPaymentIntent(ctx, intentID)
	if err != nil {
		session.Wizard.PaymentFailed(MsgInitFailed)
		return domain.Order{}, err
	}
	if err := stripe.VerifySucceeded(intent, order); err != nil {
		msg := MsgCardNotCharged
		if intent.LastError != "" {
			msg = intent.LastError
		}
		session.Wizard.PaymentFailed(msg)
		c.logger.WithError(err).WithField("order_id", order.ID).Info("stripe payment not confirmed")
		return order, err
	}

	paid, err := c.orders.ConfirmPayment(ctx, order.ID, intent.ID)
	if err != nil {
		return domain.Order{}, err
	}
	c.complete(session, paid)
	return paid, nil
}

// HandleStripeWebhook проверяет подпись и применяет событие к заказу.
func (c *Coordinator) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (stripe.WebhookEvent, error) {
	event, err := c.webhook.Parse(payload, signature)
	if err != nil {
		return stripe.WebhookEvent{}, err
	}
	return event, c.HandleStripeEvent(ctx, event)
}

// HandleStripeEvent: succeeded -> ConfirmPayment (после сверки суммы), canceled -> FailPayment.
// payment_failed по живому intent заказ не трогает: покупатель может повторить оплату.
func (c *Coordinator) HandleStripeEvent(ctx context.Context, event stripe.WebhookEvent) error {
	if !event.Relevant() {
		return nil
	}
	orderID := event.Intent.OrderID
	if orderID == "" {
		c.logger.WithField("event_id", event.ID).Warn("stripe event without order_id metadata ignored")
		return nil
	}
	fields := log.Fields{"order_id": orderID, "event": event.Type, "intent_id": event.Intent.ID}

	switch event.Type {
	case stripe.EventPaymentSucceeded:
		order, err := c.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if err := stripe.VerifySucceeded(event.Intent, order); err != nil {
			c.logger.WithError(err).WithFields(fields).Error("stripe webhook does not match order")
			return err
		}
		_, err = c.orders.ConfirmPayment(ctx, orderID, event.Intent.ID)
		return ignoreFinal(err)
	case stripe.EventPaymentFailed, stripe.EventPaymentCanceled:
		if event.Type == stripe.EventPaymentFailed && event.Intent.Status != domain.PaymentIntentCanceled {
			// intent можно оплатить повторно той же картой или другой
			c.logger.WithFields(fields).WithField("reason", event.Intent.LastError).Info("stripe payment attempt failed, order stays pending")
			return nil
		}
		reason := event.Intent.LastError
		if reason == "" {
			reason = "payment intent canceled"
		}
		_, err := c.orders.FailPayment(ctx, orderID, reason)
		if errors.Is(err, domain.ErrInvalidTransition) {
			c.logger.WithFields(fields).Info("failure for finalized order ignored")
			return nil
		}
		return err
	}
	return nil
}

// StartPayPal создаёт pending-заказ, ссылку PayPal и подписку на результат из popup.
func (c *Coordinator) StartPayPal(ctx context.Context, session *checkout.Session) (PayPalStart, error) {
	if c.paypal == nil || !c.paypal.Configured() || c.hub == nil {
		return PayPalStart{}, domain.ErrPaymentNotConfigured
	}

	session.Lock()
	defer session.Unlock()

	order, err := c.pendingOrder(ctx, session, domain.PaymentProviderPayPal)
	if err != nil {
		return PayPalStart{}, err
	}
	link, err := c.paypal.GeneratePayPalURL(order)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("build paypal url failed")
		return PayPalStart{}, err
	}
	c.hub.Subscribe(order.ID)

	return PayPalStart{OrderID: order.ID, URL: link, Popup: paypal.DefaultPopup}, nil
}

// ApplyPayPalMessage принимает сообщение popup'а и переводит заказ. Origin отсекает чужие
// страницы, но успех засчитывается только по транзакции, подтверждённой PayPal; иначе
// заказ остаётся pending и возвращается ErrPaymentNotSucceeded.
// Повторное сообщение по уже финальному заказу не меняет его.
func (c *Coordinator) ApplyPayPalMessage(ctx context.Context, origin string, msg paypal.Message) (domain.Order, error) {
	if c.hub == nil {
		return domain.Order{}, domain.ErrPaymentNotConfigured
	}
	if err := c.hub.Accept(origin, msg); err != nil {
		return domain.Order{}, err
	}
	order, err := c.applyOutcome(ctx, msg)
	if err != nil {
		return order, err
	}
	c.notify(msg, order)
	return order, nil
}

// CompletePayPalReturn обрабатывает страницы return и cancel. Токен указывает заказ и
// страницу; оплату на return подтверждает транзакция tx, проверенная у PayPal.
// Работает и без opener'а (popup заблокирован).
func (c *Coordinator) CompletePayPalReturn(ctx context.Context, token, transactionID string, session *checkout.Session) (paypal.Message, domain.Order, error) {
	if c.signer == nil || c.hub == nil {
		return paypal.Message{}, domain.Order{}, domain.ErrPaymentNotConfigured
	}
	claims, err := c.signer.Verify(token)
	if err != nil {
		return paypal.Message{}, domain.Order{}, err
	}

	msg := paypal.Message{Type: paypal.MessageCancelled, OrderID: claims.OrderID}
	if claims.Page == paypal.PageReturn {
		msg = paypal.Message{Type: paypal.MessageSuccess, OrderID: claims.OrderID, TransactionID: strings.TrimSpace(transactionID)}
	}
	order, err := c.applyOutcome(ctx, msg)
	if err != nil {
		return msg, order, err
	}
	if msg.Type == paypal.MessageSuccess {
		msg.TransactionID = order.ProviderRef
	}
	c.notify(msg, order)

	if session != nil {
		session.Lock()
		if pending, _ := session.Wizard.PendingOrder(); pending == msg.OrderID {
			c.finishPayPal(session, msg, order)
		}
		session.Unlock()
	}
	return msg, order, nil
}

// AwaitPayPalResult ждёт результат popup'а и завершает мастер сессии.
// Закрытое без результата окно оставляет заказ pending, а покупателя на шаге оплаты.
func (c *Coordinator) AwaitPayPalResult(ctx context.Context, session *checkout.Session, orderID string) (paypal.Message, error) {
	if c.hub == nil {
		return paypal.Message{}, domain.ErrPaymentNotConfigured
	}
	sub, ok := c.hub.Lookup(orderID)
	if !ok {
		return c.resultFromOrder(ctx, session, orderID)
	}

	msg, err := sub.Wait(ctx)
	switch {
	case errors.Is(err, domain.ErrPopupClosed):
		sub.Close()
		session.Lock()
		session.Wizard.PaymentFailed(MsgPayPalClosed)
		session.Unlock()
		return paypal.Message{}, err
	case errors.Is(err, paypal.ErrSubscriptionClosed):
		return c.resultFromOrder(ctx, session, orderID)
	case err != nil:
		return paypal.Message{}, err
	}
	sub.Close()

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return msg, err
	}
	session.Lock()
	c.finishPayPal(session, msg, order)
	session.Unlock()
	return msg, nil
}

// HandlePayPalNotification проверяет IPN у PayPal и применяет его к заказу:
// Completed -> ConfirmPayment после сверки, Denied/Failed/Voided/Expired -> FailPayment.
// Уведомление, не совпавшее с заказом, логируется и не меняет его.
func (c *Coordinator) HandlePayPalNotification(ctx context.Context, body []byte) (paypal.Transaction, error) {
	if c.checker == nil {
		return paypal.Transaction{}, domain.ErrPaymentNotConfigured
	}
	tx, err := c.checker.ValidateNotification(ctx, body)
	if err != nil {
		return paypal.Transaction{}, err
	}
	fields := log.Fields{"txn_id": tx.ID, "order_id": tx.OrderID(), "status": tx.Status}
	if tx.OrderID() == "" {
		c.logger.WithFields(fields).Warn("paypal notification without invoice ignored")
		return tx, nil
	}

	order, err := c.orders.Get(ctx, tx.OrderID())
	if errors.Is(err, domain.ErrOrderNotFound) {
		c.logger.WithFields(fields).Warn("paypal notification for unknown order ignored")
		return tx, nil
	}
	if err != nil {
		return tx, err
	}

	switch {
	case tx.Status == paypal.PaymentCompleted:
		if err := paypal.VerifyCompleted(tx, order, c.paypal.Business()); err != nil {
			c.logger.WithError(err).WithFields(fields).Error("paypal notification does not match order")
			return tx, nil
		}
		paid, err := c.orders.ConfirmPayment(ctx, order.ID, tx.ID)
		if err != nil {
			return tx, ignoreFinal(err)
		}
		c.notify(paypal.Message{Type: paypal.MessageSuccess, OrderID: order.ID}, paid)
	case tx.Failed():
		failed, err := c.orders.FailPayment(ctx, order.ID, "paypal payment "+strings.ToLower(tx.Status))
		if err != nil {
			return tx, ignoreFinal(err)
		}
		c.notify(paypal.Message{Type: paypal.MessageError, OrderID: order.ID, Error: failed.FailureReason}, failed)
	default:
		c.logger.WithFields(fields).WithField("reason", tx.PendingReason).Info("paypal notification leaves order pending")
	}
	return tx, nil
}

// PopupClosed отмечает закрытие окна PayPal.
func (c *Coordinator) PopupClosed(orderID string) bool {
	if c.hub == nil {
		return false
	}
	return c.hub.PopupClosed(orderID)
}

// resultFromOrder восстанавливает исход по статусу заказа, когда подписки уже нет.
func (c *Coordinator) resultFromOrder(ctx context.Context, session *checkout.Session, orderID string) (paypal.Message, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return paypal.Message{}, err
	}
	msg := paypal.Message{OrderID: order.ID, TransactionID: order.ProviderRef}
	switch order.Status {
	case domain.OrderStatusPaid:
		msg.Type = paypal.MessageSuccess
	case domain.OrderStatusCancelled:
		msg.Type = paypal.MessageCancelled
	case domain.OrderStatusFailed:
		msg.Type = paypal.MessageError
		msg.Error = order.FailureReason
	default:
		return paypal.Message{}, fmt.Errorf("%w: order %s is still pending", domain.ErrPaymentNotSucceeded, order.ID)
	}

	session.Lock()
	c.finishPayPal(session, msg, order)
	session.Unlock()
	return msg, nil
}

func (c *Coordinator) applyOutcome(ctx context.Context, msg paypal.Message) (domain.Order, error) {
	var (
		order domain.Order
		err   error
	)
	switch msg.Type {
	case paypal.MessageSuccess:
		order, err = c.confirmPayPal(ctx, msg.OrderID, msg.TransactionID)
	case paypal.MessageCancelled:
		order, err = c.orders.CancelPayment(ctx, msg.OrderID, "cancelled in PayPal")
	case paypal.MessageError:
		reason := msg.Error
		if reason == "" {
			reason = "paypal reported an error"
		}
		order, err = c.orders.FailPayment(ctx, msg.OrderID, reason)
	default:
		return domain.Order{}, domain.ErrMessageInvalid
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": msg.OrderID,
			"type":     msg.Type,
		}).Warn("paypal message conflicts with final order status")
	}
	return order, err
}

// confirmPayPal переводит заказ в paid только по транзакции, которую PayPal вернул сам
// и которая совпала с заказом. Без неё заказ остаётся pending до IPN.
func (c *Coordinator) confirmPayPal(ctx context.Context, orderID, txnID string) (domain.Order, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusPaid {
		return order, nil
	}
	fields := log.Fields{"order_id": order.ID, "txn_id": txnID}
	if c.checker == nil {
		c.logger.WithFields(fields).Warn("paypal verification is not configured, order stays pending")
		return order, fmt.Errorf("%w: paypal verification is not configured", domain.ErrPaymentNotSucceeded)
	}

	tx, err := c.checker.Lookup(ctx, txnID)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Info("paypal transaction not confirmed, order stays pending")
		if errors.Is(err, domain.ErrPaymentNotSucceeded) {
			return order, err
		}
		return order, fmt.Errorf("%w: %v", domain.ErrPaymentNotSucceeded, err)
	}
	if err := paypal.VerifyCompleted(tx, order, c.paypal.Business()); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("paypal transaction does not match order")
		return order, err
	}
	return c.orders.ConfirmPayment(ctx, order.ID, tx.ID)
}

// notify будит long-poll покупателя после того, как заказ уже переведён.
func (c *Coordinator) notify(msg paypal.Message, order domain.Order) {
	if c.hub == nil {
		return
	}
	if msg.Type == paypal.MessageSuccess {
		msg.TransactionID = order.ProviderRef
	}
	if _, err := c.hub.Deliver(c.shopOrigin(), msg); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("paypal result not delivered")
	}
}

// finishPayPal вызывается под lock сессии.
func (c *Coordinator) finishPayPal(session *checkout.Session, msg paypal.Message, order domain.Order) {
	switch {
	case msg.Type == paypal.MessageSuccess && order.Status == domain.OrderStatusPaid:
		c.complete(session, order)
	case msg.Type == paypal.MessageCancelled:
		session.Wizard.DetachOrder(order.ID)
		session.Wizard.PaymentFailed(MsgPayPalCancel)
	default:
		session.Wizard.DetachOrder(order.ID)
		session.Wizard.PaymentFailed(MsgPayPalError)
	}
}

// complete очищает корзину ровно один раз на заказ. Вызывается под lock сессии.
func (c *Coordinator) complete(session *checkout.Session, order domain.Order) {
	cleared, err := session.Wizard.Complete(order.ID)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"session":  session.ID,
		}).Warn("paid order does not match checkout session state")
		return
	}
	if cleared {
		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"provider": order.Provider,
		}).Info("checkout completed, cart cleared")
	}
}

// pendingOrder переиспользует pending-заказ текущей попытки, если он того же провайдера и на ту же сумму.
// Иначе создаёт новый по корзине сессии. Вызывается под lock сессии.
func (c *Coordinator) pendingOrder(ctx context.Context, session *checkout.Session, provider domain.PaymentProvider) (domain.Order, error) {
	if err := session.Wizard.RequirePayment(); err != nil {
		return domain.Order{}, err
	}
	customer, ok := session.Wizard.Customer()
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: delivery address has not been accepted", domain.ErrCheckoutStep)
	}
	if session.Cart.IsEmpty() {
		return domain.Order{}, domain.ErrCartEmpty
	}

	items := make([]orders.ItemRequest, 0)
	for _, item := range session.Cart.Items() {
		items = append(items, orders.ItemRequest{BookID: item.Book.ID, Quantity: item.Quantity})
	}

	if id, p := session.Wizard.PendingOrder(); id != "" && p == provider {
		existing, err := c.orders.Get(ctx, id)
		if err == nil && existing.Status == domain.OrderStatusPending {
			_, totals, qerr := c.orders.Quote(items, customer.Country)
			if qerr == nil && totals.TotalMinor == existing.AmountMinor {
				return existing, nil
			}
		}
	}

	order, err := c.orders.CreateOrder(ctx, orders.CreateOrderInput{
		Items:    items,
		Customer: customer,
		Provider: provider,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := session.Wizard.AttachOrder(order.ID, provider); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (c *Coordinator) shopOrigin() string {
	if c.hub == nil {
		return ""
	}
	return c.hub.Policy().Origin()
}

func ignoreFinal(err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	return err
}
