package domain

import (
	"errors"
	"strings"
)

var (
	// Ошибка отсутствующего email покупателя в снимке заказа.
	ErrCustomerRequired = errors.New("customer email is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной книги в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве экземпляров (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия subtotal и суммы позиций.
	ErrSubtotalMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка нарушения total = subtotal - discount + shipping.
	ErrAmountMismatch = errors.New("order total does not match subtotal - discount + shipping")
	// Ошибка отрицательной скидки или доставки.
	ErrAdjustmentNegative = errors.New("discount and shipping must be non-negative")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка неизвестного платёжного провайдера.
	ErrPaymentProviderUnknown = errors.New("payment provider is not supported")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при повторном Create с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — переход статуса заказа запрещён (например, failed -> paid).
	ErrInvalidTransition = errors.New("order status transition is not allowed")

	// ErrBookNotFound — книги нет в каталоге.
	ErrBookNotFound = errors.New("book not found")
	// ErrCartEmpty — корзина пуста, оформление невозможно.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrCheckoutStep — действие недоступно на текущем шаге оформления.
	ErrCheckoutStep = errors.New("action is not allowed at the current checkout step")
	// ErrValidation — базовая ошибка для ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrPaymentNotConfigured — у провайдера нет ключей/идентификатора мерчанта.
	ErrPaymentNotConfigured = errors.New("payment provider is not configured")
	// ErrPaymentProviderUnavailable — провайдер недоступен или вернул техническую ошибку.
	ErrPaymentProviderUnavailable = errors.New("payment provider unavailable")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentNotSucceeded — провайдер ещё не подтвердил списание.
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded")
	// ErrPaymentAmountMismatch — сумма у провайдера не совпадает с суммой заказа.
	ErrPaymentAmountMismatch = errors.New("charged amount does not match order total")

	// ErrOriginRejected — сообщение пришло не от магазина и не от PayPal.
	ErrOriginRejected = errors.New("message origin is not allowed")
	// ErrMessageInvalid — неизвестный тип сообщения или нет order_id.
	ErrMessageInvalid = errors.New("payment message is invalid")
	// ErrPopupClosed — покупатель закрыл окно оплаты, не завершив платёж.
	ErrPopupClosed = errors.New("payment popup closed")
	// ErrCallbackTokenInvalid — подпись или срок действия return/cancel токена неверны.
	ErrCallbackTokenInvalid = errors.New("callback token is invalid")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// ValidationError несёт человекочитаемые сообщения для формы оформления.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Messages, "; ")
}

// Unwrap позволяет проверять errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict — ключ уже использован (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
