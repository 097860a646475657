package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/angelmondragon/storefront-engine/internal/auth"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/observable"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

const unitPrice = 500

var regionCurrency = map[string]string{
	"reg_eu": "eur",
	"reg_us": "usd",
}

type serverCart struct {
	id         string
	regionID   string
	customerID string
	email      string
	items      []medusa.LineItem
	shipping   *medusa.Address
	billing    *medusa.Address
	discount   int64
	collection *medusa.PaymentCollection
	completed  string
}

func (c *serverCart) total() int64 {
	var sum int64
	for _, item := range c.items {
		sum += int64(item.Quantity) * unitPrice
	}
	return sum - c.discount
}

// fakeBackend is a small in-memory commerce backend.
type fakeBackend struct {
	mu    sync.Mutex
	seq   int
	carts map[string]*serverCart
	calls []string

	failures            map[string]error
	rejectRegionUpdate  bool
	ignoreRegionUpdate  bool
	deleteEchoesCart    bool
	shippingEchoesCart  bool
	completionRejection *medusa.CompletionError
	providers           []medusa.PaymentProvider
	customerID          string

	addEntered chan struct{}
	addRelease chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		carts:              make(map[string]*serverCart),
		failures:           make(map[string]error),
		deleteEchoesCart:   true,
		shippingEchoesCart: true,
		providers:          []medusa.PaymentProvider{{ID: "pp_disabled", IsEnabled: boolPtr(false)}, {ID: "pp_system_default"}},
		customerID:         "cus_1",
	}
}

func boolPtr(v bool) *bool { return &v }

func (f *fakeBackend) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failures[call]
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeBackend) render(c *serverCart) *medusa.Cart {
	body := map[string]any{
		"id":             c.id,
		"region_id":      c.regionID,
		"currency_code":  regionCurrency[c.regionID],
		"items":          c.items,
		"subtotal":       c.total() + c.discount,
		"discount_total": c.discount,
		"total":          c.total(),
	}
	if c.customerID != "" {
		body["customer_id"] = c.customerID
	}
	if c.email != "" {
		body["email"] = c.email
	}
	if c.shipping != nil {
		body["shipping_address"] = c.shipping
	}
	if c.billing != nil {
		body["billing_address"] = c.billing
	}
	if c.collection != nil {
		body["payment_collection"] = c.collection
	}
	if c.completed != "" {
		body["completed_at"] = c.completed
	}
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	var cart medusa.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		panic(err)
	}
	return &cart
}

func (f *fakeBackend) lookup(cartID string) (*serverCart, error) {
	c, ok := f.carts[cartID]
	if !ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, &medusa.StatusError{Method: http.MethodGet, Path: "carts/" + cartID, Status: http.StatusNotFound}, "cart not found")
	}
	return c, nil
}

func (f *fakeBackend) CreateCart(_ context.Context, regionID string) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_cart"); err != nil {
		return nil, err
	}
	c := &serverCart{id: f.nextID("cart"), regionID: regionID}
	f.carts[c.id] = c
	return f.render(c), nil
}

func (f *fakeBackend) GetCart(_ context.Context, cartID string) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_cart"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	return f.render(c), nil
}

func (f *fakeBackend) UpdateCart(_ context.Context, cartID string, update medusa.CartUpdate) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update_cart"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	if update.RegionID != "" {
		if f.rejectRegionUpdate {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, &medusa.StatusError{Method: http.MethodPost, Path: "carts/" + cartID, Status: http.StatusBadRequest}, "items not sold in region")
		}
		if !f.ignoreRegionUpdate {
			c.regionID = update.RegionID
		}
	}
	if update.Email != "" {
		c.email = update.Email
	}
	if update.ShippingAddress != nil {
		addr := *update.ShippingAddress
		c.shipping = &addr
	}
	if update.BillingAddress != nil {
		addr := *update.BillingAddress
		c.billing = &addr
	}
	return f.render(c), nil
}

func (f *fakeBackend) AddLineItem(_ context.Context, cartID, variantID string, quantity int) (*medusa.Cart, error) {
	if f.addEntered != nil {
		f.addEntered <- struct{}{}
		<-f.addRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("add_line_item"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	c.items = append(c.items, medusa.LineItem{
		ID:        f.nextID("item"),
		VariantID: variantID,
		Quantity:  quantity,
		UnitPrice: types.MinorUnits(unitPrice),
		Title:     "Item " + variantID,
	})
	return f.render(c), nil
}

func (f *fakeBackend) UpdateLineItem(_ context.Context, cartID, lineItemID string, quantity int) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update_line_item"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	for i := range c.items {
		if c.items[i].ID == lineItemID {
			c.items[i].Quantity = quantity
		}
	}
	return f.render(c), nil
}

func (f *fakeBackend) DeleteLineItem(_ context.Context, cartID, lineItemID string) (*medusa.LineItemDeletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_line_item"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	kept := c.items[:0]
	for _, item := range c.items {
		if item.ID != lineItemID {
			kept = append(kept, item)
		}
	}
	c.items = kept
	deletion := &medusa.LineItemDeletion{ID: lineItemID, Object: "line-item", Deleted: true}
	if f.deleteEchoesCart {
		deletion.Cart = f.render(c)
	}
	return deletion, nil
}

func (f *fakeBackend) AddShippingMethod(_ context.Context, cartID, optionID string) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("add_shipping_method"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	if !f.shippingEchoesCart {
		return nil, nil
	}
	return f.render(c), nil
}

func (f *fakeBackend) ApplyPromotions(_ context.Context, cartID string, codes []string) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("apply_promotions"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		if code == "TAKE200" {
			c.discount += 200
		}
	}
	return f.render(c), nil
}

func (f *fakeBackend) AttachCustomer(_ context.Context, cartID string) (*medusa.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("attach_customer"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	c.customerID = f.customerID
	return f.render(c), nil
}

func (f *fakeBackend) CompleteCart(_ context.Context, cartID string) (*medusa.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("complete_cart"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	if f.completionRejection != nil {
		return &medusa.Completion{Type: medusa.CompletionCart, Cart: f.render(c), Error: f.completionRejection}, nil
	}
	delete(f.carts, cartID)
	return &medusa.Completion{Type: medusa.CompletionOrder, Order: &medusa.Order{
		ID:           f.nextID("order"),
		CurrencyCode: regionCurrency[c.regionID],
		Total:        types.MinorUnits(c.total()),
	}}, nil
}

func (f *fakeBackend) ListShippingOptions(_ context.Context, cartID string) ([]medusa.ShippingOption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_shipping_options"); err != nil {
		return nil, err
	}
	return []medusa.ShippingOption{{ID: "so_standard", Name: "Standard", Amount: 400}}, nil
}

func (f *fakeBackend) ListPaymentProviders(_ context.Context, regionID string) ([]medusa.PaymentProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_payment_providers"); err != nil {
		return nil, err
	}
	return f.providers, nil
}

func (f *fakeBackend) CreatePaymentCollection(_ context.Context, cartID string) (*medusa.PaymentCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_payment_collection"); err != nil {
		return nil, err
	}
	c, err := f.lookup(cartID)
	if err != nil {
		return nil, err
	}
	c.collection = &medusa.PaymentCollection{
		ID:           f.nextID("paycol"),
		CurrencyCode: regionCurrency[c.regionID],
		Amount:       types.MinorUnits(c.total()),
		Status:       "not_paid",
	}
	collection := *c.collection
	return &collection, nil
}

func (f *fakeBackend) CreatePaymentSession(_ context.Context, collectionID, providerID string) (*medusa.PaymentCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_payment_session"); err != nil {
		return nil, err
	}
	for _, c := range f.carts {
		if c.collection != nil && c.collection.ID == collectionID {
			c.collection.PaymentSessions = []medusa.PaymentSession{{
				ID:         f.nextID("payses"),
				ProviderID: providerID,
				Status:     "pending",
				Amount:     c.collection.Amount,
			}}
			collection := *c.collection
			return &collection, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment collection not found")
}

// fakeIdentity is an identity feed the tests drive directly.
type fakeIdentity struct {
	value *observable.Value[auth.Identity]
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{value: observable.New(auth.Identity{})}
}

func (f *fakeIdentity) Identity() auth.Identity { return f.value.Current() }

func (f *fakeIdentity) Subscribe(fn func(auth.Identity)) func() { return f.value.Subscribe(fn) }

func (f *fakeIdentity) signIn(customer *medusa.Customer) {
	f.value.Set(auth.Identity{Token: "tok", Customer: customer})
}
