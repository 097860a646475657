package auth

import (
	"net/http"

	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/api/validators"
	authsvc "github.com/angelmondragon/storefront-engine/internal/auth"
	"github.com/angelmondragon/storefront-engine/internal/cart"
	"github.com/angelmondragon/storefront-engine/internal/storefront"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

type identityResponse struct {
	Authenticated bool             `json:"authenticated"`
	Customer      *medusa.Customer `json:"customer"`
}

func newIdentityResponse(identity authsvc.Identity) identityResponse {
	return identityResponse{
		Authenticated: identity.Authenticated(),
		Customer:      identity.Customer,
	}
}

type signInResponse struct {
	identityResponse
	Cart             *medusa.Cart    `json:"cart,omitempty"`
	CartLinked       bool            `json:"cart_linked"`
	BackfillError    *types.APIError `json:"backfill_error,omitempty"`
	AssociationError *types.APIError `json:"association_error,omitempty"`
}

func newSignInResponse(result *storefront.SignInResult) signInResponse {
	resp := signInResponse{
		identityResponse: newIdentityResponse(result.Identity),
		AssociationError: responses.PublicError(result.AssociationErr),
	}
	if assoc := result.Association; assoc != nil {
		resp.Cart = assoc.Cart
		resp.CartLinked = linked(assoc, result.Identity)
		resp.BackfillError = responses.PublicError(assoc.BackfillErr)
	}
	return resp
}

func linked(assoc *cart.AssociationResult, identity authsvc.Identity) bool {
	return assoc.Cart != nil && assoc.Cart.CustomerID != "" && assoc.Cart.CustomerID == identity.CustomerID()
}

// AuthLogin signs the shopper in and links their anonymous cart.
func AuthLogin(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload authsvc.LoginRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := session.Login(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSignInResponse(result))
	}
}

func AuthRegister(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload authsvc.RegisterRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := session.Register(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newSignInResponse(result))
	}
}

// AuthLogout forgets the token. The cart stays with the session.
func AuthLogout(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := session.Auth.Logout(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIdentityResponse(session.Auth.Identity()))
	}
}

// AuthMe returns the current identity. ?refresh=true refetches the profile.
func AuthMe(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		identity := session.Auth.Identity()
		if identity.Authenticated() && r.URL.Query().Get("refresh") == "true" {
			identity, err = session.Auth.RefreshProfile(r.Context())
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		responses.WriteSuccess(w, newIdentityResponse(identity))
	}
}
