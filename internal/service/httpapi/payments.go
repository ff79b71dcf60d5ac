package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payments"
)

// intentRequest повторяет тело, которое шлёт витрина. Суммы клиента не используются:
// итог пересчитывается по каталогу и корзине сессии.
type intentRequest struct {
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	OrderID       string `json:"order_id"`
	Items         []struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"items"`
}

type confirmRequest struct {
	OrderID         string `json:"order_id" binding:"required"`
	PaymentIntentID string `json:"payment_intent_id"`
}

type paymentResult struct {
	Order    domain.Order `json:"order"`
	Checkout checkoutView `json:"checkout"`
}

type payPalResultView struct {
	Status   string          `json:"status"`
	Message  *paypal.Message `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Checkout *checkoutView   `json:"checkout,omitempty"`
}

func (h *Handler) createStripeIntent(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, h.orders.Currency()) {
		h.logger.WithFields(log.Fields{
			"requested": req.Currency,
			"currency":  h.orders.Currency(),
		}).Info("client currency ignored")
	}

	start, err := h.payments.StartStripe(c.Request.Context(), sessionFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, start)
}

func (h *Handler) confirmStripe(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	s := sessionFrom(c)
	if !owns(s, req.OrderID) {
		h.writeError(c, domain.ErrOrderNotFound)
		return
	}

	order, err := h.payments.ConfirmStripe(c.Request.Context(), s, req.OrderID, req.PaymentIntentID)
	if err != nil {
		if statusOf(err) == http.StatusPaymentRequired {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":    s.Wizard.State().PaymentError,
				"checkout": h.checkoutView(s),
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentResult{Order: order, Checkout: h.checkoutView(s)})
}

func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.badRequest(c, err)
		return
	}
	event, err := h.payments.HandleStripeWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.WithError(err).WithField("event", event.Type).Warn("stripe webhook rejected")
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "type": event.Type})
}

func (h *Handler) startPayPal(c *gin.Context) {
	start, err := h.payments.StartPayPal(c.Request.Context(), sessionFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, start)
}

// payPalReturn — страница, на которую PayPal возвращает popup. Подписанный токен указывает
// заказ; оплата засчитывается только по tx, подтверждённому PayPal. Страница передаёт
// результат opener'у либо сама уводит на подтверждение.
func (h *Handler) payPalReturn(c *gin.Context) {
	s := sessionFrom(c)
	msg, order, err := h.payments.CompletePayPalReturn(c.Request.Context(), c.Query("token"), c.Query("tx"), s)
	if errors.Is(err, domain.ErrPaymentNotSucceeded) {
		h.logger.WithError(err).WithField("order_id", msg.OrderID).Info("paypal return without confirmed payment")
		h.renderPending(c)
		return
	}
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		h.logger.WithError(err).WithField("order_id", msg.OrderID).Warn("paypal return rejected")
		h.renderReturn(c, statusOf(err), nil)
		return
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Заказ уже финальный: отдаём фактический исход.
		msg.Type = outcomeOf(order.Status, msg.Type)
	}
	h.renderReturn(c, http.StatusOK, &msg)
}

func (h *Handler) payPalMessage(c *gin.Context) {
	var msg paypal.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		h.badRequest(c, err)
		return
	}
	if !owns(sessionFrom(c), msg.OrderID) {
		h.writeError(c, domain.ErrOrderNotFound)
		return
	}

	order, err := h.payments.ApplyPayPalMessage(c.Request.Context(), c.GetHeader("Origin"), msg)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotSucceeded) {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": order.ID, "status": order.Status})
}

// payPalNotification принимает IPN. Ответ 200 означает «принято»; PayPal повторяет
// уведомление, пока не получит его.
func (h *Handler) payPalNotification(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.badRequest(c, err)
		return
	}
	tx, err := h.payments.HandlePayPalNotification(c.Request.Context(), body)
	if err != nil {
		h.logger.WithError(err).WithField("txn_id", tx.ID).Warn("paypal notification rejected")
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "txn_id": tx.ID})
}

// payPalResult — long-poll результата popup'а. wait задаётся длительностью ("30s") или секундами.
func (h *Handler) payPalResult(c *gin.Context) {
	s := sessionFrom(c)
	orderID := trimmed(c, "id")
	if !owns(s, orderID) {
		h.writeError(c, domain.ErrOrderNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), parseWait(c.Query("wait")))
	defer cancel()

	msg, err := h.payments.AwaitPayPalResult(ctx, s, orderID)
	switch {
	case err == nil:
		view := h.checkoutView(s)
		c.JSON(http.StatusOK, payPalResultView{Status: "done", Message: &msg, Checkout: &view})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrPaymentNotSucceeded):
		c.JSON(http.StatusAccepted, payPalResultView{Status: "pending"})
	case errors.Is(err, domain.ErrPopupClosed):
		view := h.checkoutView(s)
		c.JSON(http.StatusConflict, payPalResultView{Status: "closed", Error: payments.MsgPayPalClosed, Checkout: &view})
	default:
		h.writeError(c, err)
	}
}

func (h *Handler) payPalClosed(c *gin.Context) {
	orderID := trimmed(c, "id")
	if !owns(sessionFrom(c), orderID) {
		h.writeError(c, domain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": orderID, "listening": h.payments.PopupClosed(orderID)})
}

// owns проверяет, что заказ принадлежит текущей попытке оплаты сессии.
func owns(s *checkout.Session, orderID string) bool {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false
	}
	state := s.Wizard.State()
	return state.PendingOrderID == orderID || state.CompletedOrderID == orderID
}

func parseWait(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	wait := defaultResultWait
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			wait = d
		} else if secs, err := strconv.Atoi(raw); err == nil {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait <= 0 {
		wait = defaultResultWait
	}
	if wait > maxResultWait {
		wait = maxResultWait
	}
	return wait
}

func outcomeOf(status domain.OrderStatus, fallback paypal.MessageType) paypal.MessageType {
	switch status {
	case domain.OrderStatusPaid:
		return paypal.MessageSuccess
	case domain.OrderStatusCancelled:
		return paypal.MessageCancelled
	case domain.OrderStatusFailed:
		return paypal.MessageError
	default:
		return fallback
	}
}
