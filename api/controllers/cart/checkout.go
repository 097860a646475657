package cart

import (
	"net/http"

	"github.com/angelmondragon/storefront-engine/api/controllers/cart/dto"
	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/api/validators"
	"github.com/angelmondragon/storefront-engine/internal/storefront"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

func ShippingOptionsList(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		options, err := session.Cart.ShippingOptions(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if options == nil {
			options = []medusa.ShippingOption{}
		}
		responses.WriteSuccess(w, map[string]any{"shipping_options": options})
	})
}

func ShippingMethodAttach(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.ShippingMethodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := session.Cart.AttachShippingMethod(r.Context(), payload.OptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	})
}

func PaymentProvidersList(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		providers, err := session.Cart.PaymentProviders(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if providers == nil {
			providers = []medusa.PaymentProvider{}
		}
		responses.WriteSuccess(w, map[string]any{"payment_providers": providers})
	})
}

// PaymentCollectionEnsure reuses the cart's collection when it still matches
// the cart and creates a new one otherwise.
func PaymentCollectionEnsure(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		result, err := session.Cart.CreateOrRefreshPaymentCollection(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(result))
	})
}

func PaymentSessionSelect(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		var payload dto.PaymentSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := session.Cart.SelectPaymentProvider(r.Context(), payload.ProviderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(result))
	})
}

// CheckoutComplete places the order. A rejected completion leaves the cart
// active and answers with CHECKOUT_REJECTED.
func CheckoutComplete(logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, session *storefront.Session) {
		order, err := session.Cart.CompleteCheckout(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "order_id", order.ID), "checkout.completed")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, orderResponse{Order: order})
	})
}
