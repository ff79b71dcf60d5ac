package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

type checkoutView struct {
	checkout.State
	Cart      cartView           `json:"cart"`
	Countries []checkout.Country `json:"countries"`
}

type receiptView struct {
	Order    domain.Order           `json:"order"`
	Total    string                 `json:"total"`
	Timeline []domain.TimelineEvent `json:"timeline"`
}

func (h *Handler) checkoutView(s *checkout.Session) checkoutView {
	return checkoutView{
		State:     s.Wizard.State(),
		Cart:      h.cartView(s),
		Countries: checkout.SupportedCountries,
	}
}

func (h *Handler) getCheckout(c *gin.Context) {
	c.JSON(http.StatusOK, h.checkoutView(sessionFrom(c)))
}

func (h *Handler) checkoutNext(c *gin.Context) {
	h.wizardStep(c, (*checkout.Wizard).Next)
}

func (h *Handler) checkoutBack(c *gin.Context) {
	h.wizardStep(c, (*checkout.Wizard).Back)
}

func (h *Handler) checkoutReset(c *gin.Context) {
	h.wizardStep(c, func(w *checkout.Wizard) error {
		w.Reset()
		return nil
	})
}

func (h *Handler) wizardStep(c *gin.Context, step func(*checkout.Wizard) error) {
	s := sessionFrom(c)
	s.Lock()
	err := step(s.Wizard)
	s.Unlock()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.checkoutView(s))
}

func (h *Handler) checkoutAddress(c *gin.Context) {
	var details domain.CustomerDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		h.badRequest(c, err)
		return
	}

	s := sessionFrom(c)
	s.Lock()
	errs, err := s.Wizard.SubmitAddress(details)
	s.Unlock()
	if err != nil {
		h.writeError(c, err)
		return
	}
	if len(errs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": errs, "checkout": h.checkoutView(s)})
		return
	}
	c.JSON(http.StatusOK, h.checkoutView(s))
}

func (h *Handler) receipt(c *gin.Context, orderID string) {
	ctx := c.Request.Context()
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	timeline, err := h.orders.Timeline(ctx, order.ID)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", order.ID).Warn("load order timeline failed")
	}
	if timeline == nil {
		timeline = []domain.TimelineEvent{}
	}
	c.JSON(http.StatusOK, receiptView{
		Order:    order,
		Total:    pricing.FormatWithSymbol(order.AmountMinor, order.Currency),
		Timeline: timeline,
	})
}

// getOrder отдаёт только заказ текущей попытки оплаты сессии. Чужой заказ ищется
// через /orders/lookup по номеру и email.
func (h *Handler) getOrder(c *gin.Context) {
	h.ownReceipt(c, trimmed(c, "id"))
}

// getConfirmation — страница подтверждения открывается как /confirmation?orderId=.
func (h *Handler) getConfirmation(c *gin.Context) {
	h.ownReceipt(c, strings.TrimSpace(c.Query("orderId")))
}

func (h *Handler) ownReceipt(c *gin.Context, orderID string) {
	if !owns(sessionFrom(c), orderID) {
		h.writeError(c, domain.ErrOrderNotFound)
		return
	}
	h.receipt(c, orderID)
}

// lookupOrders отдаёт заказы покупателя, если номер одного из них совпадает с email.
func (h *Handler) lookupOrders(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	orderID := strings.TrimSpace(c.Query("order_id"))
	if orderID == "" {
		h.writeError(c, domain.ErrOrderIDRequired)
		return
	}

	found, err := h.orders.ListByEmail(c.Request.Context(), email, maxLookupOrders)
	if err != nil {
		h.writeError(c, err)
		return
	}
	for _, order := range found {
		if order.ID == orderID {
			c.JSON(http.StatusOK, gin.H{"orders": found})
			return
		}
	}
	h.writeError(c, domain.ErrOrderNotFound)
}
