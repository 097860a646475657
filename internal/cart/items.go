package cart

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

// LineItemResult is the outcome of adding a line item. Association is set
// when the engine had to link the cart to the signed-in customer afterwards.
type LineItemResult struct {
	Cart           *medusa.Cart
	Association    *AssociationResult
	AssociationErr error
}

// AddLineItem adds quantity units of variantID, creating or migrating the
// cart under regionID first. regionID may be empty when a cart is active.
func (e *Engine) AddLineItem(ctx context.Context, variantID string, quantity int, regionID string) (*LineItemResult, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var out *LineItemResult
	err := e.run(ctx, FamilyItems, "add_line_item", func(ctx context.Context) error {
		current, err := e.ensureCart(ctx, regionID)
		if err != nil {
			return err
		}
		cart, err := e.backend.AddLineItem(ctx, current.ID, variantID, quantity)
		if err != nil {
			return err
		}
		e.commit(ctx, cart)
		out = &LineItemResult{Cart: cart}

		if e.currentIdentity().Authenticated() && cart.CustomerID == "" {
			association, assocErr := e.associate(ctx)
			out.Association = association
			out.AssociationErr = assocErr
			if association != nil && association.Cart != nil {
				out.Cart = association.Cart
			}
			if assocErr != nil {
				e.logg.Error(e.logg.WithCartID(ctx, cart.ID), "corrective customer association failed", assocErr)
			}
		}
		return nil
	})
	return out, err
}

// UpdateLineItem sets the quantity of an item already in the active cart.
// Use RemoveLineItem to drop an item.
func (e *Engine) UpdateLineItem(ctx context.Context, lineItemID string, quantity int) (*medusa.Cart, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	var out *medusa.Cart
	err := e.run(ctx, FamilyItems, "update_line_item", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		if _, ok := current.Item(lineItemID); !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "line item not in cart").
				WithDetails(map[string]any{"line_item_id": lineItemID})
		}
		cart, err := e.backend.UpdateLineItem(ctx, current.ID, lineItemID, quantity)
		if err != nil {
			return err
		}
		e.commit(ctx, cart)
		out = cart
		return nil
	})
	return out, err
}

// RemoveLineItem deletes an item. When the backend does not echo the parent
// cart, the cart is re-fetched.
func (e *Engine) RemoveLineItem(ctx context.Context, lineItemID string) (*medusa.Cart, error) {
	var out *medusa.Cart
	err := e.run(ctx, FamilyItems, "remove_line_item", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		if strings.TrimSpace(lineItemID) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "line item id is required")
		}
		deletion, err := e.backend.DeleteLineItem(ctx, current.ID, lineItemID)
		if err != nil {
			return err
		}
		if deletion.Cart != nil {
			e.commit(ctx, deletion.Cart)
			out = deletion.Cart
			return nil
		}
		out, err = e.refetch(ctx, current.ID)
		return err
	})
	return out, err
}

// ApplyPromotion adds code to the cart's promotions.
func (e *Engine) ApplyPromotion(ctx context.Context, code string) (*medusa.Cart, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion code is required")
	}
	var out *medusa.Cart
	err := e.run(ctx, FamilyPromotion, "apply_promotion", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		cart, err := e.backend.ApplyPromotions(ctx, current.ID, []string{code})
		if err != nil {
			return err
		}
		e.commit(ctx, cart)
		out = cart
		return nil
	})
	return out, err
}
