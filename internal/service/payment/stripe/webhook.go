package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// Типы событий, на которые реагирует магазин.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// ErrWebhookSignature — подпись Stripe-Signature не прошла проверку.
var ErrWebhookSignature = errors.New("stripe webhook signature is invalid")

// WebhookEvent — проверенное событие вебхука.
type WebhookEvent struct {
	ID     string
	Type   string
	Intent domain.PaymentIntent
}

// Relevant сообщает, влияет ли событие на статус заказа.
func (e WebhookEvent) Relevant() bool {
	switch e.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled:
		return true
	default:
		return false
	}
}

// WebhookVerifier проверяет подпись вебхуков секретом endpoint'а.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier создаёт verifier.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: strings.TrimSpace(secret)}
}

// Parse проверяет подпись и извлекает PaymentIntent из события.
// Версия API аккаунта может отличаться от версии SDK, поэтому она не сверяется.
func (v *WebhookVerifier) Parse(payload []byte, signature string) (WebhookEvent, error) {
	if v == nil || v.secret == "" {
		return WebhookEvent{}, domain.ErrPaymentNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi sdk.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	out.Intent = fromSDK(&pi)
	return out, nil
}
