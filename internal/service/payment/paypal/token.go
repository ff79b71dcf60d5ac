package paypal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

const (
	defaultTokenTTL = 2 * time.Hour
	tokenIssuer     = "charlesmackaybooks"
)

// Page — страница, на которую PayPal возвращает покупателя.
type Page string

const (
	PageReturn Page = "return"
	PageCancel Page = "cancel"
)

// Valid проверяет, что страница известна.
func (p Page) Valid() bool { return p == PageReturn || p == PageCancel }

// CallbackClaims — содержимое токена страниц return/cancel. Токен указывает заказ,
// но не исход: оплату подтверждает только PayPal.
type CallbackClaims struct {
	OrderID string `json:"oid"`
	Page    Page   `json:"page"`
	jwt.RegisteredClaims
}

// TokenSigner подписывает токены HS256.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner создаёт signer. Пустой секрет недопустим.
func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: callback token secret is empty", domain.ErrPaymentNotConfigured)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign выпускает токен страницы возврата для заказа.
func (s *TokenSigner) Sign(orderID string, page Page) (string, error) {
	now := s.now()
	claims := CallbackClaims{
		OrderID: orderID,
		Page:    page,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   orderID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign callback token: %w", err)
	}
	return token, nil
}

// Verify проверяет подпись, срок и состав токена.
func (s *TokenSigner) Verify(raw string) (CallbackClaims, error) {
	var claims CallbackClaims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return CallbackClaims{}, fmt.Errorf("%w: expired", domain.ErrCallbackTokenInvalid)
		}
		return CallbackClaims{}, fmt.Errorf("%w: %v", domain.ErrCallbackTokenInvalid, err)
	}
	if !token.Valid || claims.OrderID == "" || !claims.Page.Valid() {
		return CallbackClaims{}, domain.ErrCallbackTokenInvalid
	}
	return claims, nil
}
