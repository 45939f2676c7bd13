package models

import "strings"

type ShippingDetails struct {
	OrderID      string  `json:"order_id" db:"order_id"`
	FullName     string  `json:"full_name" db:"full_name" validate:"required,max=200"`
	AddressLine1 string  `json:"address_line1" db:"address_line1" validate:"required,max=300"`
	AddressLine2 *string `json:"address_line2,omitempty" db:"address_line2" validate:"omitempty,max=300"`
	City         string  `json:"city" db:"city" validate:"required,max=120"`
	State        string  `json:"state" db:"state" validate:"required,max=120"`
	PostalCode   string  `json:"postal_code" db:"postal_code" validate:"required,max=20"`
	Country      string  `json:"country" db:"country" validate:"required,max=120"`
	Phone        *string `json:"phone,omitempty" db:"phone" validate:"omitempty,max=32"`
}

// Normalize trims every field and drops optional fields that are blank.
func (d ShippingDetails) Normalize() ShippingDetails {
	d.FullName = strings.TrimSpace(d.FullName)
	d.AddressLine1 = strings.TrimSpace(d.AddressLine1)
	d.City = strings.TrimSpace(d.City)
	d.State = strings.TrimSpace(d.State)
	d.PostalCode = strings.TrimSpace(d.PostalCode)
	d.Country = strings.TrimSpace(d.Country)
	d.AddressLine2 = trimOptional(d.AddressLine2)
	d.Phone = trimOptional(d.Phone)
	return d
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
