package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AppMetadata carries the actor bindings the backend embeds in customer tokens.
type AppMetadata struct {
	CustomerID string `json:"customer_id,omitempty"`
}

// CustomerTokenClaims represents the JWT the commerce backend issues to customers.
type CustomerTokenClaims struct {
	ActorID        string      `json:"actor_id,omitempty"`
	ActorType      string      `json:"actor_type,omitempty"`
	AuthIdentityID string      `json:"auth_identity_id,omitempty"`
	AppMetadata    AppMetadata `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// CustomerID returns the customer bound to the token, if any. Registration
// tokens carry no customer until the profile is created.
func (c *CustomerTokenClaims) CustomerID() string {
	if c == nil {
		return ""
	}
	if c.ActorID != "" {
		return c.ActorID
	}
	return c.AppMetadata.CustomerID
}
