// Package pricing считает итоги корзины и заказа в пенсах.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency — валюта магазина.
const DefaultCurrency = "GBP"

var hundred = decimal.NewFromInt(100)

// ToMinor переводит сумму в фунтах в пенсы, округляя до ближайшего пенни.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor переводит пенсы обратно в фунты.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ParseAmount разбирает строку вида "12.91" в пенсы.
func ParseAmount(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", raw)
	}
	return ToMinor(d), nil
}

// Format печатает пенсы как десятичную сумму с двумя знаками: 1291 -> "12.91".
func Format(minor int64) string {
	return FromMinor(minor).StringFixed(2)
}

// FormatWithSymbol добавляет символ валюты для сообщений покупателю.
func FormatWithSymbol(minor int64, currency string) string {
	switch strings.ToUpper(currency) {
	case "GBP", "":
		return "£" + Format(minor)
	case "EUR":
		return "€" + Format(minor)
	case "USD":
		return "$" + Format(minor)
	default:
		return Format(minor) + " " + strings.ToUpper(currency)
	}
}
