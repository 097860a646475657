package cart

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-engine/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/api/validators"
	"github.com/angelmondragon/storefront-engine/internal/storefront"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

// CartFetch returns the active cart, or a null cart when none exists.
func CartFetch(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		responses.WriteSuccess(w, newCartResponse(session.Cart.Cart()))
	})
}

// CartEnsure creates the cart for the requested region, or the active region
// when none is given. An existing cart in another region is migrated.
func CartEnsure(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.CreateCartRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		regionID := strings.TrimSpace(payload.RegionID)
		if regionID == "" {
			sel, err := session.ActiveRegion(r.Context())
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			regionID = sel.RegionID
		}

		existed := session.Cart.Cart() != nil
		cart, err := session.Cart.EnsureCart(r.Context(), regionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if !existed {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, newCartResponse(cart))
	})
}

// CartClear forgets the active cart locally. The backend cart is untouched.
func CartClear(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		if err := session.Cart.Clear(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func CartRefresh(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		cart, err := session.Cart.Refresh(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	})
}

func CartStatus(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		resp := statusResponse{Families: session.Cart.Status()}
		if cart := session.Cart.Cart(); cart != nil {
			resp.HasCart = true
			resp.CartID = cart.ID
		}
		responses.WriteSuccess(w, resp)
	})
}

func LineItemAdd(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.AddLineItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := session.AddLineItem(r.Context(), payload.VariantID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLineItemResponse(result))
	})
}

func LineItemUpdate(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.UpdateLineItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := session.Cart.UpdateLineItem(r.Context(), chi.URLParam(r, "lineItemId"), payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	})
}

func LineItemRemove(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		cart, err := session.Cart.RemoveLineItem(r.Context(), chi.URLParam(r, "lineItemId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	})
}

func ShippingAddressSet(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		setAddress(w, r, logg, session.Cart.SetShippingAddressFromCustomer, session.Cart.SetShippingAddress)
	})
}

func BillingAddressSet(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		setAddress(w, r, logg, session.Cart.SetBillingAddressFromCustomer, session.Cart.SetBillingAddress)
	})
}

type savedAddressSetter func(ctx context.Context, addressID string) (*medusa.Cart, error)

type addressSetter func(ctx context.Context, addr medusa.Address) (*medusa.Cart, error)

func setAddress(w http.ResponseWriter, r *http.Request, logg *logger.Logger, fromSaved savedAddressSetter, explicit addressSetter) {
	var payload dto.AddressRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	if payload.AddressID != "" && payload.Address != nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "send either address_id or address"))
		return
	}

	var (
		cart *medusa.Cart
		err  error
	)
	if payload.AddressID != "" {
		cart, err = fromSaved(r.Context(), payload.AddressID)
	} else {
		if err := validators.Struct(payload.Address); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err = explicit(r.Context(), payload.Address.ToMedusa())
	}
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, newCartResponse(cart))
}

func EmailSet(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.EmailRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := session.Cart.SetEmail(r.Context(), payload.Email)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	})
}

func PromotionApply(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.PromotionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := session.Cart.ApplyPromotion(r.Context(), validators.SanitizeString(payload.Code, 64))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	})
}

// CustomerAssociate links the cart to the signed-in customer.
func CustomerAssociate(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		if !session.Auth.Identity().Authenticated() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to link the cart"))
			return
		}
		result, err := session.Cart.AssociateWithCustomer(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCustomerResponse(result))
	})
}

type shopperHandler func(w http.ResponseWriter, r *http.Request, session *storefront.Session)

func withSession(logg *logger.Logger, next shopperHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.RequireSession(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if cart := session.Cart.Cart(); cart != nil && logg != nil {
			ctx = logg.WithCartID(ctx, cart.ID)
		}
		next(w, r.WithContext(ctx), session)
	}
}
