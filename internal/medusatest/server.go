// Package medusatest runs an in-memory commerce backend over HTTP for tests
// that exercise the real client end to end.
package medusatest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/go-chi/chi/v5"
)

// PublishableKey is the key every request must carry.
const PublishableKey = "pk_test"

// UnitPrice is the price, in minor units, of every variant.
const UnitPrice = 1000

type cartState struct {
	id         string
	regionID   string
	customerID string
	email      string
	items      []medusa.LineItem
	shipping   *medusa.Address
	billing    *medusa.Address
	methods    []medusa.ShippingMethod
	discount   int64
	promotions []medusa.Promotion
	collection *medusa.PaymentCollection
	completed  bool
}

type customerState struct {
	customer medusa.Customer
	password string
}

// Server is an httptest server speaking the store and auth APIs.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	seq       int
	regions   []medusa.Region
	carts     map[string]*cartState
	customers map[string]*customerState
	tokens    map[string]string
	requests  []string

	// RejectRegionChange makes cart region updates fail with 400.
	RejectRegionChange bool
	// DeclinePayment makes completion return the cart with a payment error.
	DeclinePayment bool
}

// NewServer starts a backend with an EU region (de, fr) and a UK region (gb).
// The server is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		regions: []medusa.Region{
			{ID: "reg_eu", Name: "Europe", CurrencyCode: "eur", Countries: []medusa.Country{
				{ISO2: "de", DisplayName: "Germany"},
				{ISO2: "fr", DisplayName: "France"},
			}},
			{ID: "reg_uk", Name: "United Kingdom", CurrencyCode: "gbp", Countries: []medusa.Country{
				{ISO2: "gb", DisplayName: "United Kingdom"},
			}},
		},
		carts:     make(map[string]*cartState),
		customers: make(map[string]*customerState),
		tokens:    make(map[string]string),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// AddCustomer registers a customer who can log in with email and password.
func (s *Server) AddCustomer(email, password string, addresses ...medusa.CustomerAddress) medusa.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer := medusa.Customer{ID: s.nextID("cus"), Email: email, Addresses: addresses}
	s.customers[email] = &customerState{customer: customer, password: password}
	return customer
}

// SetRegions replaces the regions served from now on.
func (s *Server) SetRegions(regions ...medusa.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append([]medusa.Region(nil), regions...)
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CartCount returns the number of carts created so far.
func (s *Server) CartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Route("/auth/customer/emailpass", func(r chi.Router) {
		r.Post("/", s.login)
		r.Post("/register", s.register)
	})

	r.Route("/store", func(r chi.Router) {
		r.Use(s.requireKey)
		r.Get("/regions", s.listRegions)
		r.Post("/customers", s.createCustomer)
		r.Get("/customers/me", s.me)
		r.Get("/shipping-options", s.listShippingOptions)
		r.Get("/payment-providers", s.listPaymentProviders)
		r.Post("/payment-collections", s.createPaymentCollection)
		r.Post("/payment-collections/{collectionID}/payment-sessions", s.createPaymentSession)

		r.Post("/carts", s.createCart)
		r.Route("/carts/{cartID}", func(r chi.Router) {
			r.Get("/", s.withCart(s.getCart))
			r.Post("/", s.withCart(s.updateCart))
			r.Post("/line-items", s.withCart(s.addLineItem))
			r.Post("/line-items/{itemID}", s.withCart(s.updateLineItem))
			r.Delete("/line-items/{itemID}", s.withCart(s.deleteLineItem))
			r.Post("/shipping-methods", s.withCart(s.addShippingMethod))
			r.Post("/promotions", s.withCart(s.applyPromotions))
			r.Post("/customer", s.withCart(s.attachCustomer))
			r.Post("/complete", s.withCart(s.complete))
		})
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-publishable-api-key") != PublishableKey {
			writeError(w, http.StatusBadRequest, "not_allowed", "publishable key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCart(fn func(w http.ResponseWriter, r *http.Request, c *cartState)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.carts[chi.URLParam(r, "cartID")]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "cart not found")
			return
		}
		if c.completed && !strings.HasSuffix(r.URL.Path, "/complete") {
			writeError(w, http.StatusBadRequest, "not_allowed", "cart is already completed")
			return
		}
		fn(w, r, c)
	}
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%02d", prefix, s.seq)
}

// customerFor resolves the bearer token to a customer. Caller holds s.mu.
func (s *Server) customerFor(r *http.Request) (*customerState, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	email, ok := s.tokens[token]
	if !ok || strings.HasPrefix(token, "reg_") {
		return nil, false
	}
	customer, ok := s.customers[email]
	return customer, ok
}

func (s *Server) region(id string) (medusa.Region, bool) {
	for _, region := range s.regions {
		if region.ID == id {
			return region, true
		}
	}
	return medusa.Region{}, false
}

func (s *Server) total(c *cartState) int64 {
	var sum int64
	for _, item := range c.items {
		sum += int64(item.Quantity) * UnitPrice
	}
	for _, method := range c.methods {
		sum += method.Amount.Int64()
	}
	return sum - c.discount
}

func (s *Server) render(c *cartState) map[string]any {
	region, _ := s.region(c.regionID)
	total := s.total(c)
	body := map[string]any{
		"id":               c.id,
		"region_id":        c.regionID,
		"currency_code":    region.CurrencyCode,
		"items":            c.items,
		"shipping_methods": c.methods,
		"promotions":       c.promotions,
		"subtotal":         total + c.discount,
		"discount_total":   c.discount,
		"tax_total":        0,
		"total":            total,
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
	return body
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	customer, ok := s.customers[in.Email]
	if !ok || customer.password != in.Password {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid email or password")
		return
	}
	token := s.nextID("tok")
	s.tokens[token] = in.Email
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.customers[in.Email]; exists {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Identity with email already exists")
		return
	}
	token := s.nextID("reg")
	s.tokens[token] = in.Email
	s.customers[in.Email] = &customerState{password: in.Password}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in medusa.NewCustomer
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	email, ok := s.tokens[token]
	state, exists := s.customers[email]
	if !ok || !strings.HasPrefix(token, "reg_") || !exists {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	state.customer = medusa.Customer{
		ID:        s.nextID("cus"),
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": state.customer})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer, ok := s.customerFor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer.customer})
}

func (s *Server) listRegions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"regions": s.regions, "count": len(s.regions)})
}

func (s *Server) createCart(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RegionID string `json:"region_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.region(in.RegionID); !ok {
		writeError(w, http.StatusBadRequest, "invalid_data", "region not found")
		return
	}
	c := &cartState{id: s.nextID("cart"), regionID: in.RegionID}
	if customer, ok := s.customerFor(r); ok {
		c.customerID = customer.customer.ID
		c.email = customer.customer.Email
	}
	s.carts[c.id] = c
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) getCart(w http.ResponseWriter, _ *http.Request, c *cartState) {
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) updateCart(w http.ResponseWriter, r *http.Request, c *cartState) {
	var in medusa.CartUpdate
	if !decode(w, r, &in) {
		return
	}
	if in.RegionID != "" && in.RegionID != c.regionID {
		if _, ok := s.region(in.RegionID); !ok || s.RejectRegionChange {
			writeError(w, http.StatusBadRequest, "invalid_data", "items are not available in the new region")
			return
		}
		c.regionID = in.RegionID
		c.collection = nil
	}
	if in.Email != "" {
		c.email = in.Email
	}
	if in.ShippingAddress != nil {
		addr := *in.ShippingAddress
		addr.ID = s.nextID("caaddr")
		c.shipping = &addr
	}
	if in.BillingAddress != nil {
		addr := *in.BillingAddress
		addr.ID = s.nextID("caaddr")
		c.billing = &addr
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) addLineItem(w http.ResponseWriter, r *http.Request, c *cartState) {
	var in struct {
		VariantID string `json:"variant_id"`
		Quantity  int    `json:"quantity"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "invalid_data", "quantity must be positive")
		return
	}
	for i := range c.items {
		if c.items[i].VariantID == in.VariantID {
			c.items[i].Quantity += in.Quantity
			writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
			return
		}
	}
	c.items = append(c.items, medusa.LineItem{
		ID:        s.nextID("item"),
		VariantID: in.VariantID,
		ProductID: "prod_" + in.VariantID,
		Quantity:  in.Quantity,
		UnitPrice: UnitPrice,
		Title:     "Product " + in.VariantID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) updateLineItem(w http.ResponseWriter, r *http.Request, c *cartState) {
	var in struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &in) {
		return
	}
	itemID := chi.URLParam(r, "itemID")
	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items[i].Quantity = in.Quantity
			writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "line item not found")
}

func (s *Server) deleteLineItem(w http.ResponseWriter, r *http.Request, c *cartState) {
	itemID := chi.URLParam(r, "itemID")
	kept := c.items[:0]
	for _, item := range c.items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	c.items = kept
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      itemID,
		"object":  "line-item",
		"deleted": true,
		"parent":  s.render(c),
	})
}

func (s *Server) addShippingMethod(w http.ResponseWriter, r *http.Request, c *cartState) {
	var in struct {
		OptionID string `json:"option_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	c.methods = []medusa.ShippingMethod{{ID: s.nextID("sm"), Name: "Standard", ShippingOptionID: in.OptionID, Amount: 500}}
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) applyPromotions(w http.ResponseWriter, r *http.Request, c *cartState) {
	var in struct {
		Codes []string `json:"promo_codes"`
	}
	if !decode(w, r, &in) {
		return
	}
	for _, code := range in.Codes {
		if code != "SAVE10" {
			writeError(w, http.StatusBadRequest, "invalid_data", fmt.Sprintf("promotion %s not found", code))
			return
		}
		c.promotions = append(c.promotions, medusa.Promotion{ID: s.nextID("promo"), Code: code})
		c.discount += s.total(c) / 10
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) attachCustomer(w http.ResponseWriter, r *http.Request, c *cartState) {
	customer, ok := s.customerFor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	c.customerID = customer.customer.ID
	c.email = customer.customer.Email
	writeJSON(w, http.StatusOK, map[string]any{"cart": s.render(c)})
}

func (s *Server) complete(w http.ResponseWriter, _ *http.Request, c *cartState) {
	if c.collection == nil || len(c.collection.PaymentSessions) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_data", "payment sessions are required to complete cart")
		return
	}
	if s.DeclinePayment {
		writeJSON(w, http.StatusOK, map[string]any{
			"type": "cart",
			"cart": s.render(c),
			"error": map[string]any{
				"name":    "PaymentAuthorizationError",
				"type":    "payment_authorization_error",
				"message": "Payment authorization failed",
			},
		})
		return
	}
	c.completed = true
	region, _ := s.region(c.regionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"type": "order",
		"order": map[string]any{
			"id":            s.nextID("order"),
			"display_id":    s.seq,
			"status":        "pending",
			"email":         c.email,
			"currency_code": region.CurrencyCode,
			"total":         s.total(c),
		},
	})
}

func (s *Server) listShippingOptions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[r.URL.Query().Get("cart_id")]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "cart not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipping_options": []medusa.ShippingOption{
		{ID: "so_standard", Name: "Standard", PriceType: "flat", Amount: 500},
		{ID: "so_express", Name: "Express", PriceType: "flat", Amount: 1500},
	}})
}

func (s *Server) listPaymentProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"payment_providers": []medusa.PaymentProvider{
		{ID: "pp_system_default"},
	}})
}

func (s *Server) createPaymentCollection(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CartID string `json:"cart_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[in.CartID]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "cart not found")
		return
	}
	region, _ := s.region(c.regionID)
	c.collection = &medusa.PaymentCollection{
		ID:           s.nextID("pay_col"),
		CurrencyCode: region.CurrencyCode,
		Status:       "not_paid",
	}
	c.collection.Amount = types.MinorUnits(s.total(c))
	writeJSON(w, http.StatusOK, map[string]any{"payment_collection": c.collection})
}

func (s *Server) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProviderID string `json:"provider_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	collectionID := chi.URLParam(r, "collectionID")
	for _, c := range s.carts {
		if c.collection == nil || c.collection.ID != collectionID {
			continue
		}
		c.collection.PaymentSessions = []medusa.PaymentSession{{
			ID:           s.nextID("payses"),
			ProviderID:   in.ProviderID,
			Status:       "pending",
			CurrencyCode: c.collection.CurrencyCode,
			Amount:       c.collection.Amount,
		}}
		writeJSON(w, http.StatusOK, map[string]any{"payment_collection": c.collection})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "payment collection not found")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_data", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"type": kind, "message": message})
}
