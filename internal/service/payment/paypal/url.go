// Package paypal строит ссылки PayPal Standard и доставляет результаты из popup-окна.
package paypal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

const (
	// DefaultBaseURL — точка входа PayPal Standard.
	DefaultBaseURL = "https://www.paypal.com/cgi-bin/webscr"

	ReturnPath = "/api/payments/paypal/return"
	CancelPath = "/api/payments/paypal/cancel"
	NotifyPath = "/api/webhooks/paypal"
)

// Popup — размер окна оплаты.
type Popup struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultPopup — 900x700.
var DefaultPopup = Popup{Width: 900, Height: 700}

// Config — параметры мерчанта.
type Config struct {
	// Business — email или merchant id получателя.
	Business string
	BaseURL  string
	// ReturnBase — публичный адрес магазина, на него PayPal вернёт popup.
	ReturnBase string
}

// URLBuilder формирует ссылку _xclick для заказа.
type URLBuilder struct {
	cfg    Config
	signer *TokenSigner
}

// NewURLBuilder создаёт builder.
func NewURLBuilder(cfg Config, signer *TokenSigner) *URLBuilder {
	cfg.Business = strings.TrimSpace(cfg.Business)
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.ReturnBase = strings.TrimRight(strings.TrimSpace(cfg.ReturnBase), "/")
	return &URLBuilder{cfg: cfg, signer: signer}
}

// Configured сообщает, задан ли мерчант.
func (b *URLBuilder) Configured() bool { return b.cfg.Business != "" && b.signer != nil }

// Business — получатель платежей.
func (b *URLBuilder) Business() string {
	if b == nil {
		return ""
	}
	return b.cfg.Business
}

// GeneratePayPalURL возвращает ссылку на оплату заказа. return и cancel_return несут
// подписанный токен заказа; notify_url принимает IPN.
func (b *URLBuilder) GeneratePayPalURL(order domain.Order) (string, error) {
	if !b.Configured() {
		return "", domain.ErrPaymentNotConfigured
	}
	if order.ID == "" {
		return "", domain.ErrOrderIDRequired
	}
	if order.AmountMinor <= 0 {
		return "", domain.ErrAmountNegative
	}

	returnToken, err := b.signer.Sign(order.ID, PageReturn)
	if err != nil {
		return "", err
	}
	cancelToken, err := b.signer.Sign(order.ID, PageCancel)
	if err != nil {
		return "", err
	}

	base, err := url.Parse(b.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse paypal base url: %w", err)
	}

	q := url.Values{}
	q.Set("cmd", "_xclick")
	q.Set("business", b.cfg.Business)
	q.Set("item_name", itemName(order))
	q.Set("amount", pricing.Format(order.AmountMinor))
	q.Set("currency_code", strings.ToUpper(order.Currency))
	q.Set("invoice", order.ID)
	q.Set("custom", order.ID)
	q.Set("no_shipping", "2")
	q.Set("charset", "utf-8")
	q.Set("return", b.cfg.ReturnBase+ReturnPath+"?token="+url.QueryEscape(returnToken))
	q.Set("cancel_return", b.cfg.ReturnBase+CancelPath+"?token="+url.QueryEscape(cancelToken))
	q.Set("notify_url", b.cfg.ReturnBase+NotifyPath)
	base.RawQuery = q.Encode()

	return base.String(), nil
}

func itemName(order domain.Order) string {
	qty := order.TotalQuantity()
	if qty == 1 && len(order.Items) == 1 {
		return order.Items[0].Title
	}
	return fmt.Sprintf("Charles Mackay Books order %s (%d books)", order.ID, qty)
}
