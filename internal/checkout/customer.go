// Package checkout содержит утилиты оформления заказа и пошаговый мастер сессии.
package checkout

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// SupportedCountries — страны доставки в порядке показа в форме.
var SupportedCountries = []Country{
	{Code: "GB", Name: "United Kingdom"},
	{Code: "US", Name: "United States"},
	{Code: "CA", Name: "Canada"},
	{Code: "AU", Name: "Australia"},
	{Code: "DE", Name: "Germany"},
	{Code: "FR", Name: "France"},
	{Code: "IT", Name: "Italy"},
	{Code: "ES", Name: "Spain"},
	{Code: "NL", Name: "Netherlands"},
	{Code: "BE", Name: "Belgium"},
}

// Country — код ISO 3166-1 alpha-2 и отображаемое имя.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsSupportedCountry проверяет код страны без учёта регистра.
func IsSupportedCountry(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range SupportedCountries {
		if c.Code == code {
			return true
		}
	}
	return false
}

// ValidateCustomerDetails возвращает по одному сообщению на каждую проблему.
// Пустой результат означает, что данные можно использовать для заказа.
func ValidateCustomerDetails(details domain.CustomerDetails) []string {
	d := details.Normalized()
	var errs []string

	if d.FirstName == "" {
		errs = append(errs, "First name is required")
	}
	if d.LastName == "" {
		errs = append(errs, "Last name is required")
	}
	switch {
	case d.Email == "":
		errs = append(errs, "Email is required")
	case !emailPattern.MatchString(d.Email):
		errs = append(errs, "Please enter a valid email address")
	}
	if d.Address1 == "" {
		errs = append(errs, "Address line 1 is required")
	}
	if d.City == "" {
		errs = append(errs, "City is required")
	}
	if d.Postcode == "" {
		errs = append(errs, "Postcode is required")
	}
	switch {
	case d.Country == "":
		errs = append(errs, "Country is required")
	case !IsSupportedCountry(d.Country):
		errs = append(errs, fmt.Sprintf("Country %s is not supported", d.Country))
	}

	return errs
}
