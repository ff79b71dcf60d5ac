package paypal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// MessageType — тип сообщения от popup-окна PayPal.
type MessageType string

const (
	MessageSuccess   MessageType = "PAYPAL_PAYMENT_SUCCESS"
	MessageCancelled MessageType = "PAYPAL_PAYMENT_CANCELLED"
	MessageError     MessageType = "PAYPAL_PAYMENT_ERROR"
)

// Valid проверяет тип.
func (t MessageType) Valid() bool {
	switch t {
	case MessageSuccess, MessageCancelled, MessageError:
		return true
	default:
		return false
	}
}

// Message — результат оплаты, который popup передаёт opener'у.
type Message struct {
	Type          MessageType `json:"type"`
	OrderID       string      `json:"order_id"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Validate отбрасывает сообщения неизвестного типа и без заказа.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", domain.ErrMessageInvalid, m.Type)
	}
	if strings.TrimSpace(m.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrMessageInvalid)
	}
	return nil
}

// OriginPolicy пропускает сообщения только от магазина и от доменов PayPal.
type OriginPolicy struct {
	shop *url.URL
}

// NewOriginPolicy создаёт политику для публичного адреса магазина.
func NewOriginPolicy(shopOrigin string) (OriginPolicy, error) {
	u, err := url.Parse(strings.TrimSpace(shopOrigin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return OriginPolicy{}, fmt.Errorf("invalid shop origin %q", shopOrigin)
	}
	return OriginPolicy{shop: u}, nil
}

// Origin возвращает origin магазина в виде scheme://host.
func (p OriginPolicy) Origin() string {
	if p.shop == nil {
		return ""
	}
	return p.shop.Scheme + "://" + p.shop.Host
}

// Allowed проверяет origin: scheme://host[:port] магазина либо https-хост paypal.com и его поддомены.
func (p OriginPolicy) Allowed(origin string) bool {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" {
		return false
	}
	if p.shop != nil && strings.EqualFold(u.Scheme, p.shop.Scheme) && strings.EqualFold(u.Host, p.shop.Host) {
		return true
	}
	if u.Scheme != "https" || u.Port() != "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "paypal.com" || strings.HasSuffix(host, ".paypal.com")
}

// Check возвращает ErrOriginRejected для чужого origin.
func (p OriginPolicy) Check(origin string) error {
	if !p.Allowed(origin) {
		return fmt.Errorf("%w: %q", domain.ErrOriginRejected, origin)
	}
	return nil
}
