package domain

import "strings"

// CustomerDetails — адрес и контакты, собранные на шаге address.
type CustomerDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// Normalized возвращает копию с обрезанными пробелами и кодом страны в верхнем регистре.
func (c CustomerDetails) Normalized() CustomerDetails {
	return CustomerDetails{
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
		Address1:  strings.TrimSpace(c.Address1),
		Address2:  strings.TrimSpace(c.Address2),
		City:      strings.TrimSpace(c.City),
		Postcode:  strings.TrimSpace(c.Postcode),
		Country:   strings.ToUpper(strings.TrimSpace(c.Country)),
	}
}

// FullName склеивает имя и фамилию.
func (c CustomerDetails) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
