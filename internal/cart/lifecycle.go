package cart

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
)

// CreateCart creates a cart under regionID and makes it active, replacing
// any previous cart. On failure the engine keeps its previous state.
func (e *Engine) CreateCart(ctx context.Context, regionID string) (*medusa.Cart, error) {
	var out *medusa.Cart
	err := e.run(ctx, FamilyCart, "create_cart", func(ctx context.Context) error {
		var err error
		out, err = e.createCart(ctx, regionID)
		return err
	})
	return out, err
}

// EnsureCart guarantees an active cart priced in regionID. An existing cart
// under another region is moved to regionID; if the backend refuses the move
// the cart is discarded and recreated.
func (e *Engine) EnsureCart(ctx context.Context, regionID string) (*medusa.Cart, error) {
	var out *medusa.Cart
	err := e.run(ctx, FamilyCart, "ensure_cart", func(ctx context.Context) error {
		var err error
		out, err = e.ensureCart(ctx, regionID)
		return err
	})
	return out, err
}

func (e *Engine) createCart(ctx context.Context, regionID string) (*medusa.Cart, error) {
	regionID = strings.TrimSpace(regionID)
	if regionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "region id is required")
	}
	cart, err := e.backend.CreateCart(ctx, regionID)
	if err != nil {
		return nil, err
	}
	e.commit(ctx, cart)
	e.logg.Info(e.logg.WithRegionID(e.logg.WithCartID(ctx, cart.ID), regionID), "cart created")
	return cart, nil
}

func (e *Engine) ensureCart(ctx context.Context, regionID string) (*medusa.Cart, error) {
	regionID = strings.TrimSpace(regionID)
	current := e.Cart()
	if current == nil {
		return e.createCart(ctx, regionID)
	}
	if regionID == "" || current.RegionID == regionID {
		return current, nil
	}

	ctx = e.logg.WithCartID(ctx, current.ID)
	migrated, err := e.backend.UpdateCart(ctx, current.ID, medusa.CartUpdate{RegionID: regionID})
	switch {
	case err == nil && migrated.RegionID == regionID:
		e.commit(ctx, migrated)
		e.logg.Info(e.logg.WithRegionID(ctx, regionID), "cart moved to new region")
		return migrated, nil
	case err == nil:
		e.logg.Warn(e.logg.WithRegionID(ctx, migrated.RegionID), "backend kept cart in previous region; recreating")
	case medusa.IsRefusal(err):
		e.logg.Warn(e.logg.WithRegionID(ctx, regionID), "backend refused region change; recreating cart")
	default:
		return nil, err
	}

	if err := e.discard(ctx); err != nil {
		return nil, err
	}
	return e.createCart(ctx, regionID)
}
