package auth

import "github.com/angelmondragon/storefront-engine/pkg/medusa"

// LoginRequest captures the customer credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest contains the payload required to create a customer account.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Phone     string `json:"phone,omitempty"`
}

// Identity is published whenever the shopper signs in or out.
type Identity struct {
	Token    string           `json:"-"`
	Customer *medusa.Customer `json:"customer,omitempty"`
}

// Authenticated reports whether the identity carries a bearer token.
func (i Identity) Authenticated() bool {
	return i.Token != ""
}

// CustomerID returns the signed-in customer's id, or "" for guests.
func (i Identity) CustomerID() string {
	if i.Customer == nil {
		return ""
	}
	return i.Customer.ID
}
