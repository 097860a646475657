package cart

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

// AssociationResult reports what AssociateWithCustomer did. BackfillErr is
// set when the cart was linked but copying default addresses failed.
type AssociationResult struct {
	Cart               *medusa.Cart
	Attached           bool
	BackfilledShipping bool
	BackfilledBilling  bool
	BackfillErr        error
}

// AssociateWithCustomer links the active cart to the signed-in customer and
// then copies the customer's default addresses into any empty cart slot.
// Guests and already linked carts are left alone.
func (e *Engine) AssociateWithCustomer(ctx context.Context) (*AssociationResult, error) {
	var out *AssociationResult
	err := e.run(ctx, FamilyCustomer, "associate_customer", func(ctx context.Context) error {
		var err error
		out, err = e.associate(ctx)
		return err
	})
	return out, err
}

func (e *Engine) associate(ctx context.Context) (*AssociationResult, error) {
	current, err := e.requireCart()
	if err != nil {
		return nil, err
	}
	result := &AssociationResult{Cart: current}
	identity := e.currentIdentity()
	if !identity.Authenticated() || current.CustomerID != "" {
		return result, nil
	}

	ctx = e.logg.WithCustomerID(e.logg.WithCartID(ctx, current.ID), identity.CustomerID())
	attached, err := e.backend.AttachCustomer(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	e.commit(ctx, attached)
	result.Cart = attached
	result.Attached = true

	update := medusa.CartUpdate{}
	if !attached.ShippingAddress.Populated() {
		if addr, ok := identity.Customer.DefaultShipping(); ok {
			in := addr.Input()
			update.ShippingAddress = &in
		}
	}
	if !attached.BillingAddress.Populated() {
		if addr, ok := identity.Customer.DefaultBilling(); ok {
			in := addr.Input()
			update.BillingAddress = &in
		}
	}
	if update.ShippingAddress == nil && update.BillingAddress == nil {
		return result, nil
	}

	backfilled, err := e.backend.UpdateCart(ctx, attached.ID, update)
	if err != nil {
		result.BackfillErr = err
		e.logg.Error(ctx, "backfill customer addresses", err)
		return result, nil
	}
	e.commit(ctx, backfilled)
	result.Cart = backfilled
	result.BackfilledShipping = update.ShippingAddress != nil
	result.BackfilledBilling = update.BillingAddress != nil
	e.logg.Info(ctx, "cart linked to customer")
	return result, nil
}

// SetShippingAddress writes the cart's shipping address. The billing address is untouched.
func (e *Engine) SetShippingAddress(ctx context.Context, addr medusa.Address) (*medusa.Cart, error) {
	in := addr.Input()
	return e.updateCart(ctx, FamilyAddresses, "set_shipping_address", medusa.CartUpdate{ShippingAddress: &in})
}

// SetBillingAddress writes the cart's billing address. The shipping address is untouched.
func (e *Engine) SetBillingAddress(ctx context.Context, addr medusa.Address) (*medusa.Cart, error) {
	in := addr.Input()
	return e.updateCart(ctx, FamilyAddresses, "set_billing_address", medusa.CartUpdate{BillingAddress: &in})
}

// SetShippingAddressFromCustomer copies one of the signed-in customer's saved
// addresses into the shipping slot.
func (e *Engine) SetShippingAddressFromCustomer(ctx context.Context, addressID string) (*medusa.Cart, error) {
	addr, err := e.savedAddress(addressID)
	if err != nil {
		return nil, err
	}
	return e.SetShippingAddress(ctx, addr)
}

// SetBillingAddressFromCustomer copies one of the signed-in customer's saved
// addresses into the billing slot.
func (e *Engine) SetBillingAddressFromCustomer(ctx context.Context, addressID string) (*medusa.Cart, error) {
	addr, err := e.savedAddress(addressID)
	if err != nil {
		return nil, err
	}
	return e.SetBillingAddress(ctx, addr)
}

// SetEmail sets the contact email used for guest checkout.
func (e *Engine) SetEmail(ctx context.Context, email string) (*medusa.Cart, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	return e.updateCart(ctx, FamilyAddresses, "set_email", medusa.CartUpdate{Email: email})
}

func (e *Engine) savedAddress(addressID string) (medusa.Address, error) {
	identity := e.currentIdentity()
	if !identity.Authenticated() {
		return medusa.Address{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to use saved addresses")
	}
	addr, ok := identity.Customer.AddressByID(addressID)
	if !ok {
		return medusa.Address{}, pkgerrors.New(pkgerrors.CodeNotFound, "saved address not found").
			WithDetails(map[string]any{"address_id": addressID})
	}
	return addr, nil
}

func (e *Engine) updateCart(ctx context.Context, family Family, operation string, update medusa.CartUpdate) (*medusa.Cart, error) {
	var out *medusa.Cart
	err := e.run(ctx, family, operation, func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		cart, err := e.backend.UpdateCart(ctx, current.ID, update)
		if err != nil {
			return err
		}
		e.commit(ctx, cart)
		out = cart
		return nil
	})
	return out, err
}
