package cart

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

// PaymentResult reports the collection state after a payment operation.
// SessionErr is set when the eager provider session could not be started.
type PaymentResult struct {
	Cart       *medusa.Cart
	Collection *medusa.PaymentCollection
	Created    bool
	ProviderID string
	SessionErr error
}

// ShippingOptions lists the shipping options available to the active cart.
func (e *Engine) ShippingOptions(ctx context.Context) ([]medusa.ShippingOption, error) {
	var out []medusa.ShippingOption
	err := e.track(ctx, FamilyShipping, "list_shipping_options", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		out, err = e.backend.ListShippingOptions(ctx, current.ID)
		return err
	})
	return out, err
}

// AttachShippingMethod selects a shipping option for the active cart.
func (e *Engine) AttachShippingMethod(ctx context.Context, optionID string) (*medusa.Cart, error) {
	optionID = strings.TrimSpace(optionID)
	if optionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping option id is required")
	}
	var out *medusa.Cart
	err := e.run(ctx, FamilyShipping, "attach_shipping_method", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		cart, err := e.backend.AddShippingMethod(ctx, current.ID, optionID)
		if err != nil {
			return err
		}
		if cart == nil {
			out, err = e.refetch(ctx, current.ID)
			return err
		}
		e.commit(ctx, cart)
		out = cart
		return nil
	})
	return out, err
}

// PaymentProviders lists the providers enabled for the active cart's region.
func (e *Engine) PaymentProviders(ctx context.Context) ([]medusa.PaymentProvider, error) {
	var out []medusa.PaymentProvider
	err := e.track(ctx, FamilyPayment, "list_payment_providers", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		out, err = e.providers(ctx, current)
		return err
	})
	return out, err
}

// CreateOrRefreshPaymentCollection makes sure the cart has a collection that
// matches its current total and currency, recreating a stale one. When the
// collection has no usable session, one is started with the first enabled
// provider for the cart's region.
func (e *Engine) CreateOrRefreshPaymentCollection(ctx context.Context) (*PaymentResult, error) {
	var out *PaymentResult
	err := e.run(ctx, FamilyPayment, "refresh_payment_collection", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		result, err := e.ensureCollection(ctx, current)
		if err != nil {
			return err
		}

		if _, ok := result.Collection.UsableSession(); !ok {
			providerID, sessionErr := e.startFirstSession(ctx, current, result)
			result.ProviderID = providerID
			result.SessionErr = sessionErr
			if sessionErr != nil {
				e.logg.Error(e.logg.WithCartID(ctx, current.ID), "start payment session", sessionErr)
			}
		}

		result.Cart, err = e.refetch(ctx, current.ID)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// SelectPaymentProvider starts a session with providerID on a current collection.
func (e *Engine) SelectPaymentProvider(ctx context.Context, providerID string) (*PaymentResult, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider id is required")
	}
	var out *PaymentResult
	err := e.run(ctx, FamilyPayment, "select_payment_provider", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		result, err := e.ensureCollection(ctx, current)
		if err != nil {
			return err
		}
		collection, err := e.backend.CreatePaymentSession(ctx, result.Collection.ID, providerID)
		if err != nil {
			return err
		}
		result.Collection = collection
		result.ProviderID = providerID
		result.Cart, err = e.refetch(ctx, current.ID)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// CompleteCheckout places the order. The cart must carry both addresses and a
// usable payment session on a collection that matches its total; otherwise no
// call is made. An order clears the cart; a rejection leaves it as it was.
func (e *Engine) CompleteCheckout(ctx context.Context) (*medusa.Order, error) {
	var out *medusa.Order
	err := e.run(ctx, FamilyCheckout, "complete_checkout", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		if err := checkoutReady(current); err != nil {
			return err
		}

		ctx = e.logg.WithCartID(ctx, current.ID)
		completion, err := e.backend.CompleteCart(ctx, current.ID)
		if err != nil {
			return err
		}
		if completion.Type == medusa.CompletionCart {
			details := map[string]any{"cart_id": current.ID}
			if completion.Error != nil && completion.Error.Type != "" {
				details["reason"] = completion.Error.Type
			}
			message := "checkout rejected"
			if reason := completion.Error.String(); reason != "" {
				message = reason
			}
			return pkgerrors.New(pkgerrors.CodeCheckoutRejected, message).WithDetails(details)
		}

		if err := e.discard(ctx); err != nil {
			e.logg.Error(ctx, "clear completed cart", err)
		}
		out = completion.Order
		e.logg.Info(e.logg.WithField(ctx, "order_id", out.ID), "checkout completed")
		return nil
	})
	return out, err
}

func checkoutReady(cart *medusa.Cart) error {
	var missing []string
	if !cart.ShippingAddress.Populated() {
		missing = append(missing, "shipping_address")
	}
	if !cart.BillingAddress.Populated() {
		missing = append(missing, "billing_address")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is missing checkout addresses").
			WithDetails(map[string]any{"missing": missing})
	}
	if cart.Payment == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart has no payment collection")
	}
	if !cart.Payment.MatchesCart(cart) {
		return pkgerrors.New(pkgerrors.CodeStaleResource, "payment collection no longer matches cart total").
			WithDetails(map[string]any{
				"payment_collection_id": cart.Payment.ID,
				"collection_amount":     cart.Payment.Amount.Int64(),
				"cart_total":            cart.Total.Int64(),
			})
	}
	if _, ok := cart.Payment.UsableSession(); !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart has no usable payment session")
	}
	return nil
}

// ensureCollection returns the cart's collection when it still matches the
// cart, or creates a fresh one.
func (e *Engine) ensureCollection(ctx context.Context, cart *medusa.Cart) (*PaymentResult, error) {
	if cart.Payment != nil && cart.Payment.MatchesCart(cart) {
		collection := *cart.Payment
		return &PaymentResult{Collection: &collection}, nil
	}
	if cart.Payment != nil {
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"cart_id":               cart.ID,
			"payment_collection_id": cart.Payment.ID,
		}), "payment collection stale; recreating")
	}
	collection, err := e.backend.CreatePaymentCollection(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Collection: collection, Created: true}, nil
}

func (e *Engine) startFirstSession(ctx context.Context, cart *medusa.Cart, result *PaymentResult) (string, error) {
	providers, err := e.providers(ctx, cart)
	if err != nil {
		return "", err
	}
	for _, provider := range providers {
		if !provider.Enabled() {
			continue
		}
		collection, err := e.backend.CreatePaymentSession(ctx, result.Collection.ID, provider.ID)
		if err != nil {
			return provider.ID, err
		}
		result.Collection = collection
		return provider.ID, nil
	}
	return "", nil
}

func (e *Engine) providers(ctx context.Context, cart *medusa.Cart) ([]medusa.PaymentProvider, error) {
	if cart.RegionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart has no region")
	}
	return e.backend.ListPaymentProviders(ctx, cart.RegionID)
}
