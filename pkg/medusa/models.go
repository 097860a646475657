package medusa

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/storefront-engine/pkg/types"
)

// Cart mirrors the store cart object. Raw keeps the exact bytes the backend
// sent so callers can persist and compare snapshots without re-encoding.
type Cart struct {
	ID              string             `json:"id"`
	CurrencyCode    string             `json:"currency_code"`
	CustomerID      string             `json:"customer_id,omitempty"`
	Email           string             `json:"email,omitempty"`
	RegionID        string             `json:"region_id,omitempty"`
	CompletedAt     *string            `json:"completed_at,omitempty"`
	Subtotal        types.MinorUnits   `json:"subtotal"`
	TaxTotal        types.MinorUnits   `json:"tax_total"`
	ShippingTotal   types.MinorUnits   `json:"shipping_total"`
	DiscountTotal   types.MinorUnits   `json:"discount_total"`
	CreditLineTotal types.MinorUnits   `json:"credit_line_total"`
	ItemTotal       types.MinorUnits   `json:"item_total"`
	Total           types.MinorUnits   `json:"total"`
	Items           []LineItem         `json:"items"`
	ShippingAddress *Address           `json:"shipping_address,omitempty"`
	BillingAddress  *Address           `json:"billing_address,omitempty"`
	ShippingMethods []ShippingMethod   `json:"shipping_methods,omitempty"`
	Payment         *PaymentCollection `json:"payment_collection,omitempty"`
	Promotions      []Promotion        `json:"promotions,omitempty"`
	Region          *Region            `json:"region,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (c *Cart) UnmarshalJSON(data []byte) error {
	type alias Cart
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Cart(decoded)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Item returns the line item with id, if present.
func (c *Cart) Item(id string) (LineItem, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return LineItem{}, false
}

// ItemCount sums the quantities of every line item.
func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

type LineItem struct {
	ID           string           `json:"id"`
	VariantID    string           `json:"variant_id"`
	ProductID    string           `json:"product_id"`
	Quantity     int              `json:"quantity"`
	UnitPrice    types.MinorUnits `json:"unit_price"`
	Total        types.MinorUnits `json:"total"`
	Title        string           `json:"title"`
	Thumbnail    string           `json:"thumbnail,omitempty"`
	VariantTitle string           `json:"variant_title,omitempty"`
}

type Address struct {
	ID          string `json:"id,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address_1,omitempty"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Province    string `json:"province,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Populated reports whether the address carries the fields checkout needs.
func (a *Address) Populated() bool {
	if a == nil {
		return false
	}
	return strings.TrimSpace(a.Address1) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.CountryCode) != "" &&
		strings.TrimSpace(a.PostalCode) != ""
}

// Input strips server-assigned identity so the address can be written to a cart.
func (a Address) Input() Address {
	a.ID = ""
	a.CountryCode = strings.ToLower(a.CountryCode)
	return a
}

type CustomerAddress struct {
	Address
	AddressName       string `json:"address_name,omitempty"`
	IsDefaultShipping bool   `json:"is_default_shipping"`
	IsDefaultBilling  bool   `json:"is_default_billing"`
}

type Customer struct {
	ID                       string            `json:"id"`
	Email                    string            `json:"email"`
	FirstName                string            `json:"first_name,omitempty"`
	LastName                 string            `json:"last_name,omitempty"`
	Phone                    string            `json:"phone,omitempty"`
	CompanyName              string            `json:"company_name,omitempty"`
	DefaultShippingAddressID string            `json:"default_shipping_address_id,omitempty"`
	DefaultBillingAddressID  string            `json:"default_billing_address_id,omitempty"`
	Addresses                []CustomerAddress `json:"addresses,omitempty"`
}

// DefaultShipping returns the customer's default shipping address.
func (c *Customer) DefaultShipping() (Address, bool) {
	return c.defaultAddress(func(a CustomerAddress) bool { return a.IsDefaultShipping }, c.DefaultShippingAddressID)
}

// DefaultBilling returns the customer's default billing address.
func (c *Customer) DefaultBilling() (Address, bool) {
	return c.defaultAddress(func(a CustomerAddress) bool { return a.IsDefaultBilling }, c.DefaultBillingAddressID)
}

// AddressByID looks up one of the customer's saved addresses.
func (c *Customer) AddressByID(id string) (Address, bool) {
	if c == nil {
		return Address{}, false
	}
	for _, addr := range c.Addresses {
		if addr.ID == id {
			return addr.Address, true
		}
	}
	return Address{}, false
}

func (c *Customer) defaultAddress(flagged func(CustomerAddress) bool, fallbackID string) (Address, bool) {
	if c == nil {
		return Address{}, false
	}
	for _, addr := range c.Addresses {
		if flagged(addr) {
			return addr.Address, true
		}
	}
	if fallbackID != "" {
		return c.AddressByID(fallbackID)
	}
	return Address{}, false
}

type ShippingMethod struct {
	ID               string           `json:"id"`
	Name             string           `json:"name,omitempty"`
	ShippingOptionID string           `json:"shipping_option_id,omitempty"`
	Amount           types.MinorUnits `json:"amount"`
}

type ShippingOption struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	PriceType  string           `json:"price_type,omitempty"`
	ProviderID string           `json:"provider_id,omitempty"`
	Amount     types.MinorUnits `json:"amount"`
}

type Promotion struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	IsAutomatic bool   `json:"is_automatic,omitempty"`
}

type Region struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CurrencyCode string    `json:"currency_code"`
	Countries    []Country `json:"countries,omitempty"`
}

type Country struct {
	ISO2        string `json:"iso_2"`
	ISO3        string `json:"iso_3,omitempty"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	RegionID    string `json:"region_id,omitempty"`
}

// Label is the human readable country name.
func (c Country) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if c.Name != "" {
		return c.Name
	}
	return strings.ToUpper(c.ISO2)
}

// Payment collection statuses reported by the backend, normalized.
const (
	PaymentPending    = "pending"
	PaymentAction     = "requires_action"
	PaymentProcessing = "processing"
	PaymentCompleted  = "completed"
	PaymentCanceled   = "canceled"
)

type PaymentCollection struct {
	ID               string            `json:"id"`
	CurrencyCode     string            `json:"currency_code"`
	Amount           types.MinorUnits  `json:"amount"`
	Status           string            `json:"status,omitempty"`
	PaymentProviders []PaymentProvider `json:"payment_providers,omitempty"`
	PaymentSessions  []PaymentSession  `json:"payment_sessions,omitempty"`
}

// NormalizedStatus folds backend synonyms onto the PaymentX constants.
func (p *PaymentCollection) NormalizedStatus() string {
	switch strings.ToLower(p.Status) {
	case "", "pending", "not_paid", "awaiting":
		return PaymentPending
	case "requires_action":
		return PaymentAction
	case "processing", "partially_authorized":
		return PaymentProcessing
	case "completed", "succeeded", "authorized":
		return PaymentCompleted
	default:
		return PaymentCanceled
	}
}

// UsableSession returns the first session that can still complete.
func (p *PaymentCollection) UsableSession() (PaymentSession, bool) {
	if p == nil || p.NormalizedStatus() == PaymentCanceled {
		return PaymentSession{}, false
	}
	for _, session := range p.PaymentSessions {
		if session.Usable() {
			return session, true
		}
	}
	return PaymentSession{}, false
}

// MatchesCart reports whether the collection still covers the cart's total and currency.
func (p *PaymentCollection) MatchesCart(cart *Cart) bool {
	if p == nil || cart == nil {
		return false
	}
	return p.Amount == cart.Total && strings.EqualFold(p.CurrencyCode, cart.CurrencyCode)
}

type PaymentSession struct {
	ID           string           `json:"id"`
	ProviderID   string           `json:"provider_id"`
	Status       string           `json:"status,omitempty"`
	CurrencyCode string           `json:"currency_code,omitempty"`
	Amount       types.MinorUnits `json:"amount"`
}

// Usable reports whether the session can still be authorized or captured.
func (s PaymentSession) Usable() bool {
	switch strings.ToLower(s.Status) {
	case "error", "canceled", "cancelled", "failed":
		return false
	default:
		return true
	}
}

type PaymentProvider struct {
	ID        string `json:"id"`
	IsEnabled *bool  `json:"is_enabled,omitempty"`
}

// Enabled treats a missing flag as enabled.
func (p PaymentProvider) Enabled() bool {
	return p.IsEnabled == nil || *p.IsEnabled
}

type Order struct {
	ID           string           `json:"id"`
	DisplayID    int              `json:"display_id,omitempty"`
	Status       string           `json:"status,omitempty"`
	Email        string           `json:"email,omitempty"`
	CurrencyCode string           `json:"currency_code"`
	Total        types.MinorUnits `json:"total"`

	Raw json.RawMessage `json:"-"`
}

func (o *Order) UnmarshalJSON(data []byte) error {
	type alias Order
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*o = Order(decoded)
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// CartUpdate is the body of a cart update. Nil fields are left untouched.
type CartUpdate struct {
	RegionID        string   `json:"region_id,omitempty"`
	Email           string   `json:"email,omitempty"`
	ShippingAddress *Address `json:"shipping_address,omitempty"`
	BillingAddress  *Address `json:"billing_address,omitempty"`
}

// NewCustomer is the profile created after registering an identity.
type NewCustomer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}
