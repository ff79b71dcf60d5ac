package domain

import "time"

// OrderStatus описывает жизненный цикл заказа магазина.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан на шаге оплаты, провайдер ещё не подтвердил списание.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — провайдер подтвердил оплату.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed — провайдер вернул ошибку или отклонил платёж.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled — покупатель отменил оплату.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition сообщает, допустим ли переход из s в next.
// Из pending можно уйти в любой финальный статус; финальные статусы не меняются.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	return s == OrderStatusPending && next != OrderStatusPending && next.Valid()
}

// OrderItem — снимок книги на момент создания заказа.
type OrderItem struct {
	BookID string `json:"book_id"`
	Title  string `json:"title"`
	ISBN   string `json:"isbn"`
	Qty    int32  `json:"qty"`
	// PriceMinor — цена за экземпляр в пенсах.
	PriceMinor int64 `json:"price_minor"`
}

// Order агрегирует состояние заказа, снимок покупателя и позиций.
type Order struct {
	ID       string          `json:"id"`
	Customer CustomerDetails `json:"customer"`
	Items    []OrderItem     `json:"items"`
	Currency string          `json:"currency"`

	SubtotalMinor int64 `json:"subtotal_minor"`
	DiscountMinor int64 `json:"discount_minor"`
	ShippingMinor int64 `json:"shipping_minor"`
	// AmountMinor — итог к оплате: subtotal - discount + shipping.
	AmountMinor int64 `json:"amount_minor"`

	Status        OrderStatus     `json:"status"`
	Provider      PaymentProvider `json:"provider"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalQuantity возвращает общее число экземпляров в заказе.
func (o *Order) TotalQuantity() int {
	var qty int
	for _, item := range o.Items {
		qty += int(item.Qty)
	}
	return qty
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.Customer.Email == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.Provider == "" {
		errs = append(errs, ErrPaymentProviderRequired)
	} else if !o.Provider.Valid() {
		errs = append(errs, ErrPaymentProviderUnknown)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if o.DiscountMinor < 0 || o.ShippingMinor < 0 {
		errs = append(errs, ErrAdjustmentNegative)
	}

	// Сверяем subtotal с позициями: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if o.SubtotalMinor-o.DiscountMinor+o.ShippingMinor != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
