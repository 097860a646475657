// Package storefront bundles one shopper's region selector, auth session and
// cart engine over a namespaced state store.
package storefront

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-engine/internal/auth"
	"github.com/angelmondragon/storefront-engine/internal/cart"
	"github.com/angelmondragon/storefront-engine/internal/region"
	"github.com/angelmondragon/storefront-engine/internal/state"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"go.uber.org/multierr"
)

// Dependencies are shared by every session.
type Dependencies struct {
	Client         *medusa.Client
	Backend        state.Backend
	DefaultCountry string
	Logger         *logger.Logger
	Metrics        *metrics.OperationMetrics
}

func (d Dependencies) validate() error {
	if d.Client == nil {
		return fmt.Errorf("medusa client required")
	}
	if d.Backend == nil {
		return fmt.Errorf("state backend required")
	}
	return nil
}

// Session is one shopper's view of the storefront.
type Session struct {
	ID      string
	Regions *region.Selector
	Auth    *auth.Session
	Cart    *cart.Engine

	logg  *logger.Logger
	lease lease
}

// NewSession wires a session for id. Nothing is loaded until Restore.
func NewSession(id string, deps Dependencies) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	store, err := state.Scoped(deps.Backend, id)
	if err != nil {
		return nil, err
	}

	selector, err := region.NewSelector(deps.Client, store, deps.DefaultCountry, logg)
	if err != nil {
		return nil, err
	}
	authSession, err := auth.NewSession(deps.Client, store, logg)
	if err != nil {
		return nil, err
	}
	engine, err := cart.NewEngine(cart.Params{
		Backend:  deps.Client.WithTokenSource(authSession),
		Store:    store,
		Identity: authSession,
		Logger:   logg,
		Metrics:  deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:      id,
		Regions: selector,
		Auth:    authSession,
		Cart:    engine,
		logg:    logg,
	}, nil
}

// Restore reloads the persisted selection, token and cart. Every part is
// attempted; the returned error combines the failures.
func (s *Session) Restore(ctx context.Context) error {
	ctx = s.logg.WithSessionID(ctx, s.ID)
	var errs error
	if err := s.Regions.Restore(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("restore region selection: %w", err))
	}
	if _, err := s.Auth.Restore(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("restore auth token: %w", err))
	}
	if _, err := s.Cart.Restore(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("restore cart: %w", err))
	}
	return errs
}

// ActiveRegion returns the selected region, loading regions and applying the
// default selection when nothing is selected yet.
func (s *Session) ActiveRegion(ctx context.Context) (region.Selection, error) {
	if sel, ok := s.Regions.Active(); ok {
		return sel, nil
	}
	if len(s.Regions.Options()) == 0 {
		if err := s.Regions.LoadRegions(ctx); err != nil {
			return region.Selection{}, err
		}
	}
	return s.Regions.EnsureDefault(ctx)
}

// SelectCountry switches the active country. An active cart follows the new
// region, being migrated or recreated by the engine.
func (s *Session) SelectCountry(ctx context.Context, code string) (region.Selection, *medusa.Cart, error) {
	if len(s.Regions.Options()) == 0 {
		if err := s.Regions.LoadRegions(ctx); err != nil {
			return region.Selection{}, nil, err
		}
	}
	sel, err := s.Regions.SelectCountryCode(ctx, code)
	if err != nil {
		return region.Selection{}, nil, err
	}
	active := s.Cart.Cart()
	if active == nil || active.RegionID == sel.RegionID {
		return sel, active, nil
	}
	migrated, err := s.Cart.EnsureCart(ctx, sel.RegionID)
	if err != nil {
		return sel, nil, err
	}
	return sel, migrated, nil
}

// ReloadRegions refetches the region list. When the reload re-resolves the
// selection to another region, an active cart follows it.
func (s *Session) ReloadRegions(ctx context.Context) (region.Selection, *medusa.Cart, error) {
	if err := s.Regions.LoadRegions(ctx); err != nil {
		return region.Selection{}, nil, err
	}
	sel, ok := s.Regions.Active()
	active := s.Cart.Cart()
	if !ok || active == nil || active.RegionID == sel.RegionID {
		return sel, active, nil
	}
	migrated, err := s.Cart.EnsureCart(ctx, sel.RegionID)
	if err != nil {
		return sel, nil, err
	}
	return sel, migrated, nil
}

// AddLineItem adds a variant to the cart of the active region.
func (s *Session) AddLineItem(ctx context.Context, variantID string, quantity int) (*cart.LineItemResult, error) {
	sel, err := s.ActiveRegion(ctx)
	if err != nil {
		return nil, err
	}
	return s.Cart.AddLineItem(ctx, variantID, quantity, sel.RegionID)
}

// SignInResult reports a sign-in and the follow-up cart association.
// AssociationErr does not undo the sign-in.
type SignInResult struct {
	Identity       auth.Identity
	Association    *cart.AssociationResult
	AssociationErr error
}

// Login signs the shopper in and links an anonymous active cart to them.
func (s *Session) Login(ctx context.Context, req auth.LoginRequest) (*SignInResult, error) {
	identity, err := s.Auth.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.afterSignIn(ctx, identity), nil
}

// Register creates an account, signs in and links the active cart.
func (s *Session) Register(ctx context.Context, req auth.RegisterRequest) (*SignInResult, error) {
	identity, err := s.Auth.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.afterSignIn(ctx, identity), nil
}

func (s *Session) afterSignIn(ctx context.Context, identity auth.Identity) *SignInResult {
	result := &SignInResult{Identity: identity}
	if s.Cart.Cart() == nil {
		return result
	}
	result.Association, result.AssociationErr = s.Cart.AssociateWithCustomer(ctx)
	if result.AssociationErr != nil {
		s.logg.Error(s.logg.WithSessionID(ctx, s.ID), "associate cart after sign in", result.AssociationErr)
	}
	return result
}

// Close releases the session's subscriptions.
func (s *Session) Close() {
	s.Cart.Close()
}
