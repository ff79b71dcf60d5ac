package domain

// PaymentProvider определяет, через кого оплачивается заказ.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderPayPal PaymentProvider = "paypal"
)

// Valid проверяет, что провайдер поддерживается магазином.
func (p PaymentProvider) Valid() bool {
	switch p {
	case PaymentProviderStripe, PaymentProviderPayPal:
		return true
	default:
		return false
	}
}

// PaymentIntentStatus повторяет статусы Stripe PaymentIntent, которые важны магазину.
type PaymentIntentStatus string

const (
	PaymentIntentRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentIntentRequiresConfirmation  PaymentIntentStatus = "requires_confirmation"
	PaymentIntentRequiresAction        PaymentIntentStatus = "requires_action"
	PaymentIntentProcessing            PaymentIntentStatus = "processing"
	PaymentIntentSucceeded             PaymentIntentStatus = "succeeded"
	PaymentIntentCanceled              PaymentIntentStatus = "canceled"
)

// PaymentIntent — попытка списания у Stripe, привязанная к заказу.
type PaymentIntent struct {
	ID           string              `json:"id"`
	ClientSecret string              `json:"-"`
	OrderID      string              `json:"order_id"`
	Status       PaymentIntentStatus `json:"status"`
	AmountMinor  int64               `json:"amount_minor"`
	Currency     string              `json:"currency"`
	// LastError — сообщение провайдера о последней неудачной попытке.
	LastError string `json:"last_error,omitempty"`
}
