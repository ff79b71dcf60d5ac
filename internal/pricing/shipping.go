package pricing

import (
	"fmt"
	"strings"
)

const (
	ShippingPolicyFree   = "free"
	ShippingPolicyWeight = "weight"

	weightBandGrams = 500
)

// ShippingPolicy считает стоимость доставки по весу посылки и стране назначения.
type ShippingPolicy interface {
	Name() string
	Quote(weightGrams int, country string) int64
}

// NewShippingPolicy выбирает политику по имени из конфигурации.
func NewShippingPolicy(name string) (ShippingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ShippingPolicyFree:
		return FreeShipping{}, nil
	case ShippingPolicyWeight:
		return DefaultWeightBasedShipping(), nil
	default:
		return nil, fmt.Errorf("unsupported shipping policy %q (use free|weight)", name)
	}
}

// FreeShipping — текущее правило магазина: доставка бесплатна всегда.
type FreeShipping struct{}

func (FreeShipping) Name() string { return ShippingPolicyFree }

func (FreeShipping) Quote(int, string) int64 { return 0 }

// ZoneRate — тариф зоны: First за первые 500 г и Additional за каждые следующие начатые 500 г.
type ZoneRate struct {
	First      int64
	Additional int64
}

// WeightBasedShipping — тарифы Royal Mail-подобной сетки по трём зонам.
type WeightBasedShipping struct {
	Domestic ZoneRate
	Europe   ZoneRate
	World    ZoneRate
}

var europeanCountries = map[string]struct{}{
	"DE": {}, "FR": {}, "IT": {}, "ES": {}, "NL": {}, "BE": {},
}

// DefaultWeightBasedShipping возвращает тарифы, которые действовали до бесплатной доставки.
func DefaultWeightBasedShipping() WeightBasedShipping {
	return WeightBasedShipping{
		Domestic: ZoneRate{First: 350, Additional: 150},
		Europe:   ZoneRate{First: 750, Additional: 300},
		World:    ZoneRate{First: 1200, Additional: 450},
	}
}

func (WeightBasedShipping) Name() string { return ShippingPolicyWeight }

// Quote возвращает стоимость доставки; пустая посылка ничего не стоит.
func (w WeightBasedShipping) Quote(weightGrams int, country string) int64 {
	if weightGrams <= 0 {
		return 0
	}

	rate := w.World
	switch code := strings.ToUpper(strings.TrimSpace(country)); {
	case code == "GB" || code == "":
		rate = w.Domestic
	default:
		if _, ok := europeanCountries[code]; ok {
			rate = w.Europe
		}
	}

	bands := (weightGrams + weightBandGrams - 1) / weightBandGrams
	return rate.First + int64(bands-1)*rate.Additional
}

// CalculateShipping считает доставку корзины по выбранной политике.
func CalculateShipping(policy ShippingPolicy, lines []Line, country string) int64 {
	if policy == nil {
		policy = FreeShipping{}
	}
	return policy.Quote(TotalWeight(lines), country)
}

// CalculateShippingByWeight — тарифная сетка по весу без учёта акции бесплатной доставки.
func CalculateShippingByWeight(weightGrams int, country string) int64 {
	return DefaultWeightBasedShipping().Quote(weightGrams, country)
}
