package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/stripe"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payments"
)

// statusOf сопоставляет доменную ошибку HTTP-статусу.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBookNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrCheckoutStep),
		errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrPopupClosed),
		domain.IsIdempotencyConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrMessageInvalid),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, stripe.ErrWebhookSignature),
		errors.Is(err, paypal.ErrNotificationInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOriginRejected),
		errors.Is(err, domain.ErrCallbackTokenInvalid):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaymentDeclined),
		errors.Is(err, domain.ErrPaymentNotSucceeded),
		errors.Is(err, domain.ErrPaymentAmountMismatch):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentNotConfigured),
		errors.Is(err, domain.ErrPaymentProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает {error} либо {errors:[...]} для ошибок валидации.
// Детали сбоев провайдера и внутренних ошибок наружу не уходят.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := statusOf(err)
	_ = c.Error(err)

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		c.AbortWithStatusJSON(code, gin.H{"errors": verr.Messages})
		return
	}

	msg := err.Error()
	switch code {
	case http.StatusBadGateway:
		msg = payments.MsgInitFailed
	case http.StatusInternalServerError:
		h.logger.WithError(err).WithField("route", routeOf(c)).Error("unexpected api error")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.logger.WithError(err).WithField("route", routeOf(c)).Debug("malformed request body")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
}
