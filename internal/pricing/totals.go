package pricing

import "github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"

// Line — позиция для расчёта: цена и вес берутся из каталога, не от клиента.
type Line struct {
	BookID      string
	PriceMinor  int64
	Quantity    int
	WeightGrams int
}

// LineFromBook строит позицию из записи каталога.
func LineFromBook(book domain.Book, quantity int) Line {
	weight := book.WeightGrams
	if weight <= 0 {
		weight = domain.DefaultBookWeightGrams
	}
	return Line{
		BookID:      book.ID,
		PriceMinor:  book.PriceMinor,
		Quantity:    quantity,
		WeightGrams: weight,
	}
}

// Totals — разбивка итога.
type Totals struct {
	Quantity        int   `json:"quantity"`
	SubtotalMinor   int64 `json:"subtotal_minor"`
	DiscountPercent int   `json:"discount_percent"`
	DiscountMinor   int64 `json:"discount_minor"`
	ShippingMinor   int64 `json:"shipping_minor"`
	TotalMinor      int64 `json:"total_minor"`
}

// Subtotal возвращает сумму price * quantity.
func Subtotal(lines []Line) int64 {
	var sum int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		sum += line.PriceMinor * int64(line.Quantity)
	}
	return sum
}

// TotalQuantity возвращает общее количество книг.
func TotalQuantity(lines []Line) int {
	var qty int
	for _, line := range lines {
		if line.Quantity > 0 {
			qty += line.Quantity
		}
	}
	return qty
}

// TotalWeight возвращает вес посылки в граммах.
func TotalWeight(lines []Line) int {
	var grams int
	for _, line := range lines {
		if line.Quantity > 0 {
			grams += line.WeightGrams * line.Quantity
		}
	}
	return grams
}

// Calculator объединяет политику скидок и доставки.
type Calculator struct {
	discount *BulkDiscountPolicy
	shipping ShippingPolicy
}

// NewCalculator создаёт калькулятор; nil-аргументы заменяются значениями по умолчанию.
func NewCalculator(discount *BulkDiscountPolicy, shipping ShippingPolicy) *Calculator {
	if discount == nil {
		discount = DefaultBulkDiscount()
	}
	if shipping == nil {
		shipping = FreeShipping{}
	}
	return &Calculator{discount: discount, shipping: shipping}
}

// DefaultCalculator — пороги по умолчанию и бесплатная доставка.
func DefaultCalculator() *Calculator {
	return NewCalculator(nil, nil)
}

// Discount возвращает политику скидок.
func (c *Calculator) Discount() *BulkDiscountPolicy { return c.discount }

// Shipping возвращает политику доставки.
func (c *Calculator) Shipping() ShippingPolicy { return c.shipping }

// Calculate считает total = subtotal - discount + shipping.
func (c *Calculator) Calculate(lines []Line, country string) Totals {
	t := Totals{
		Quantity:      TotalQuantity(lines),
		SubtotalMinor: Subtotal(lines),
	}
	t.DiscountPercent = c.discount.Percentage(t.Quantity)
	t.DiscountMinor = c.discount.Discount(t.SubtotalMinor, t.Quantity)
	if t.Quantity > 0 {
		t.ShippingMinor = CalculateShipping(c.shipping, lines, country)
	}
	t.TotalMinor = t.SubtotalMinor - t.DiscountMinor + t.ShippingMinor
	return t
}
