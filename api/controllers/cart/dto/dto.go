package dto

import (
	"strings"

	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

type CreateCartRequest struct {
	RegionID string `json:"region_id,omitempty"`
}

type AddLineItemRequest struct {
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type UpdateLineItemRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

// AddressRequest sets a cart address either from one of the signed-in
// customer's saved addresses or from explicit fields.
type AddressRequest struct {
	AddressID string   `json:"address_id,omitempty" validate:"required_without=Address"`
	Address   *Address `json:"address,omitempty" validate:"required_without=AddressID"`
}

type Address struct {
	FirstName   string `json:"first_name" validate:"required,max=128"`
	LastName    string `json:"last_name" validate:"required,max=128"`
	Company     string `json:"company,omitempty" validate:"max=128"`
	Address1    string `json:"address_1" validate:"required,max=256"`
	Address2    string `json:"address_2,omitempty" validate:"max=256"`
	City        string `json:"city" validate:"required,max=128"`
	CountryCode string `json:"country_code" validate:"required,len=2,alpha"`
	Province    string `json:"province,omitempty" validate:"max=128"`
	PostalCode  string `json:"postal_code" validate:"required,max=32"`
	Phone       string `json:"phone,omitempty" validate:"max=32"`
}

func (a Address) ToMedusa() medusa.Address {
	return medusa.Address{
		FirstName:   strings.TrimSpace(a.FirstName),
		LastName:    strings.TrimSpace(a.LastName),
		Company:     strings.TrimSpace(a.Company),
		Address1:    strings.TrimSpace(a.Address1),
		Address2:    strings.TrimSpace(a.Address2),
		City:        strings.TrimSpace(a.City),
		CountryCode: strings.ToLower(strings.TrimSpace(a.CountryCode)),
		Province:    strings.TrimSpace(a.Province),
		PostalCode:  strings.TrimSpace(a.PostalCode),
		Phone:       strings.TrimSpace(a.Phone),
	}
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ShippingMethodRequest struct {
	OptionID string `json:"option_id" validate:"required"`
}

type PromotionRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type PaymentSessionRequest struct {
	ProviderID string `json:"provider_id" validate:"required"`
}
