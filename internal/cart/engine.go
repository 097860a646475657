// Package cart owns the shopper's active cart and sequences every mutation
// against the commerce backend. After each successful mutation the local
// snapshot is replaced by the cart object the backend returned.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/storefront-engine/internal/auth"
	"github.com/angelmondragon/storefront-engine/internal/state"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
	"github.com/angelmondragon/storefront-engine/pkg/observable"
)

// Backend is the slice of the commerce API the engine drives.
type Backend interface {
	CreateCart(ctx context.Context, regionID string) (*medusa.Cart, error)
	GetCart(ctx context.Context, cartID string) (*medusa.Cart, error)
	UpdateCart(ctx context.Context, cartID string, update medusa.CartUpdate) (*medusa.Cart, error)
	AddLineItem(ctx context.Context, cartID, variantID string, quantity int) (*medusa.Cart, error)
	UpdateLineItem(ctx context.Context, cartID, lineItemID string, quantity int) (*medusa.Cart, error)
	DeleteLineItem(ctx context.Context, cartID, lineItemID string) (*medusa.LineItemDeletion, error)
	AddShippingMethod(ctx context.Context, cartID, optionID string) (*medusa.Cart, error)
	ApplyPromotions(ctx context.Context, cartID string, codes []string) (*medusa.Cart, error)
	AttachCustomer(ctx context.Context, cartID string) (*medusa.Cart, error)
	CompleteCart(ctx context.Context, cartID string) (*medusa.Completion, error)
	ListShippingOptions(ctx context.Context, cartID string) ([]medusa.ShippingOption, error)
	ListPaymentProviders(ctx context.Context, regionID string) ([]medusa.PaymentProvider, error)
	CreatePaymentCollection(ctx context.Context, cartID string) (*medusa.PaymentCollection, error)
	CreatePaymentSession(ctx context.Context, collectionID, providerID string) (*medusa.PaymentCollection, error)
}

// errCartCompleted is returned by refetch after it cleared a cart the backend
// reports as completed.
var errCartCompleted = pkgerrors.New(pkgerrors.CodeNoActiveCart, "cart already completed")

// IdentityFeed publishes sign-in and sign-out events.
type IdentityFeed interface {
	Identity() auth.Identity
	Subscribe(fn func(auth.Identity)) func()
}

// Params bundles the engine's collaborators. Identity, Logger and Metrics are optional.
type Params struct {
	Backend  Backend
	Store    state.Store
	Identity IdentityFeed
	Logger   *logger.Logger
	Metrics  *metrics.OperationMetrics
}

// Engine is the sole mutator of one shopper's active cart. Mutations are
// serialized; a caller waiting for its turn gives up when its context ends.
type Engine struct {
	backend Backend
	store   state.Store
	logg    *logger.Logger
	metrics *metrics.OperationMetrics

	lock *semaphore.Weighted

	mu       sync.RWMutex
	cart     *medusa.Cart
	identity auth.Identity

	unsubscribe func()
	active      *observable.Value[*medusa.Cart]
	status      *statusBoard
}

// NewEngine builds an engine with no active cart. Call Restore to pick up a
// persisted snapshot.
func NewEngine(params Params) (*Engine, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("cart backend required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("state store required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	e := &Engine{
		backend:     params.Backend,
		store:       params.Store,
		logg:        logg,
		metrics:     params.Metrics,
		lock:        semaphore.NewWeighted(1),
		unsubscribe: func() {},
		active:      observable.New[*medusa.Cart](nil),
		status:      newStatusBoard(time.Now),
	}
	if params.Identity != nil {
		e.identity = params.Identity.Identity()
		e.unsubscribe = params.Identity.Subscribe(e.onIdentity)
	}
	return e, nil
}

// Close detaches the engine from the identity feed.
func (e *Engine) Close() {
	e.unsubscribe()
}

// Cart returns the active cart, or nil. The value must be treated as read-only.
func (e *Engine) Cart() *medusa.Cart {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cart
}

// Snapshot returns the raw backend bytes of the active cart, or nil.
func (e *Engine) Snapshot() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cart == nil {
		return nil
	}
	return append([]byte(nil), e.cart.Raw...)
}

// Subscribe registers fn to receive the active cart after every change. A nil
// cart means the cart was cleared.
func (e *Engine) Subscribe(fn func(*medusa.Cart)) func() {
	return e.active.Subscribe(fn)
}

// Status reports the progress of every operation family seen so far.
func (e *Engine) Status() map[Family]OperationStatus {
	return e.status.snapshot()
}

// FamilyStatus reports the progress of one operation family.
func (e *Engine) FamilyStatus(family Family) OperationStatus {
	return e.status.get(family)
}

// Restore loads the persisted snapshot without contacting the backend.
// Unreadable or already completed snapshots are dropped.
func (e *Engine) Restore(ctx context.Context) (*medusa.Cart, error) {
	var restored *medusa.Cart
	err := e.run(ctx, FamilyCart, "restore", func(ctx context.Context) error {
		raw, ok, err := e.store.Get(ctx, state.KeyCart)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart snapshot")
		}
		if !ok || len(raw) == 0 {
			return nil
		}
		var cart medusa.Cart
		if err := json.Unmarshal(raw, &cart); err != nil || cart.ID == "" {
			e.logg.Warn(ctx, "discarding unreadable cart snapshot")
			return e.discard(ctx)
		}
		if cart.CompletedAt != nil {
			e.logg.Info(e.logg.WithCartID(ctx, cart.ID), "discarding completed cart snapshot")
			return e.discard(ctx)
		}
		e.setCart(&cart)
		restored = &cart
		return nil
	})
	return restored, err
}

// Refresh re-fetches the active cart and replaces the snapshot. A cart the
// backend no longer knows is cleared. A cart completed elsewhere is cleared
// and Refresh returns nil.
func (e *Engine) Refresh(ctx context.Context) (*medusa.Cart, error) {
	var out *medusa.Cart
	err := e.run(ctx, FamilyCart, "refresh", func(ctx context.Context) error {
		current, err := e.requireCart()
		if err != nil {
			return err
		}
		out, err = e.refetch(ctx, current.ID)
		if errors.Is(err, errCartCompleted) {
			return nil
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			e.logg.Info(e.logg.WithCartID(ctx, current.ID), "active cart no longer exists")
			if discardErr := e.discard(ctx); discardErr != nil {
				return discardErr
			}
		}
		return err
	})
	return out, err
}

// Clear discards the active cart and its persisted snapshot.
func (e *Engine) Clear(ctx context.Context) error {
	return e.run(ctx, FamilyCart, "clear", e.discard)
}

func (e *Engine) onIdentity(identity auth.Identity) {
	e.mu.Lock()
	e.identity = identity
	e.mu.Unlock()
}

func (e *Engine) currentIdentity() auth.Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identity
}

// run serializes fn with every other mutation and records its outcome.
func (e *Engine) run(ctx context.Context, family Family, operation string, fn func(ctx context.Context) error) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)

	return e.track(ctx, family, operation, fn)
}

func (e *Engine) track(ctx context.Context, family Family, operation string, fn func(ctx context.Context) error) error {
	started := time.Now()
	e.status.begin(family, operation)
	err := fn(e.logg.WithField(ctx, "operation", operation))
	e.status.finish(family, operation, err)
	e.metrics.Observe(operation, started, err)
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"operation": operation,
			"error":     err.Error(),
		}), "cart operation failed")
	}
	return err
}

func (e *Engine) requireCart() (*medusa.Cart, error) {
	cart := e.Cart()
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveCart, "no active cart")
	}
	return cart, nil
}

// commit makes cart the active snapshot, persists it and notifies observers.
// Persistence failures are logged; the in-memory snapshot stays authoritative.
func (e *Engine) commit(ctx context.Context, cart *medusa.Cart) {
	e.setCart(cart)
	if err := e.store.Set(ctx, state.KeyCart, cart.Raw); err != nil {
		e.logg.Error(e.logg.WithCartID(ctx, cart.ID), "persist cart snapshot", err)
	}
}

func (e *Engine) setCart(cart *medusa.Cart) {
	e.mu.Lock()
	e.cart = cart
	e.mu.Unlock()
	e.active.Set(cart)
}

func (e *Engine) discard(ctx context.Context) error {
	e.setCart(nil)
	if err := e.store.Remove(ctx, state.KeyCart); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove cart snapshot")
	}
	return nil
}

func (e *Engine) refetch(ctx context.Context, cartID string) (*medusa.Cart, error) {
	cart, err := e.backend.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.CompletedAt != nil {
		e.logg.Info(e.logg.WithCartID(ctx, cartID), "active cart was completed remotely")
		if err := e.discard(ctx); err != nil {
			return nil, err
		}
		return nil, errCartCompleted
	}
	e.commit(ctx, cart)
	return cart, nil
}
