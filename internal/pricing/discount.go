package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Tier — порог оптовой скидки: от MinQuantity книг действует Percent процентов.
type Tier struct {
	MinQuantity int `json:"min_quantity" yaml:"min_quantity"`
	Percent     int `json:"percent" yaml:"percent"`
}

// DefaultTiers — действующие пороги магазина.
var DefaultTiers = []Tier{
	{MinQuantity: 5, Percent: 10},
	{MinQuantity: 10, Percent: 15},
}

// BulkDiscountPolicy — ступенчатая неубывающая функция процента скидки от количества книг.
type BulkDiscountPolicy struct {
	tiers []Tier
}

// NewBulkDiscountPolicy проверяет пороги и сортирует их по количеству.
func NewBulkDiscountPolicy(tiers ...Tier) (*BulkDiscountPolicy, error) {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinQuantity < sorted[j].MinQuantity })

	prevPercent := 0
	for i, tier := range sorted {
		if tier.MinQuantity <= 0 {
			return nil, fmt.Errorf("discount tier %d: min quantity must be positive", i)
		}
		if tier.Percent < 0 || tier.Percent > 100 {
			return nil, fmt.Errorf("discount tier %d: percent must be within 0..100", i)
		}
		if i > 0 && tier.MinQuantity == sorted[i-1].MinQuantity {
			return nil, fmt.Errorf("discount tier %d: duplicate threshold %d", i, tier.MinQuantity)
		}
		if tier.Percent < prevPercent {
			return nil, errors.New("discount tiers must not decrease as quantity grows")
		}
		prevPercent = tier.Percent
	}

	return &BulkDiscountPolicy{tiers: sorted}, nil
}

// DefaultBulkDiscount возвращает политику с DefaultTiers.
func DefaultBulkDiscount() *BulkDiscountPolicy {
	policy, err := NewBulkDiscountPolicy(DefaultTiers...)
	if err != nil {
		panic(err)
	}
	return policy
}

// Tiers возвращает копию порогов.
func (p *BulkDiscountPolicy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// Percentage возвращает процент скидки для общего количества книг.
func (p *BulkDiscountPolicy) Percentage(quantity int) int {
	percent := 0
	for _, tier := range p.tiers {
		if quantity < tier.MinQuantity {
			break
		}
		percent = tier.Percent
	}
	return percent
}

// Discount возвращает абсолютную скидку в пенсах: subtotal * percent / 100, округлённо до пенни.
func (p *BulkDiscountPolicy) Discount(subtotalMinor int64, quantity int) int64 {
	percent := p.Percentage(quantity)
	if percent == 0 || subtotalMinor <= 0 {
		return 0
	}
	return decimal.NewFromInt(subtotalMinor).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(hundred).
		Round(0).
		IntPart()
}
