package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/internal/medusatest"
	"github.com/angelmondragon/storefront-engine/internal/state"
	"github.com/angelmondragon/storefront-engine/internal/storefront"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/metrics"
)

const sessionHeader = "X-Storefront-Session"

type harness struct {
	t       *testing.T
	backend *medusatest.Server
	handler http.Handler
	session string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := medusatest.NewServer(t)

	cfg := &config.Config{
		App:          config.AppConfig{Env: "test"},
		Storefront:   config.StorefrontConfig{DefaultCountry: "gb", SessionHeader: sessionHeader},
		FeatureFlags: config.FeatureFlagsConfig{Metrics: true},
		AuthLimit:    config.AuthRateLimitConfig{Window: time.Minute, IPLimit: 100, EmailLimit: 2},
	}

	reg := prometheus.NewRegistry()
	opMetrics := metrics.NewOperationMetrics(reg)
	client, err := medusa.NewClient(backend.URL, medusatest.PublishableKey, medusa.WithObserver(opMetrics))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	registry, err := storefront.NewRegistry(storefront.Dependencies{
		Client:         client,
		Backend:        state.NewMemoryBackend(),
		DefaultCountry: cfg.Storefront.DefaultCountry,
		Logger:         logger.Nop(),
		Metrics:        opMetrics,
	}, 16)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(registry.Close)

	attempts, err := middleware.NewLocalAttemptCounter(64)
	if err != nil {
		t.Fatalf("new attempt counter: %v", err)
	}
	replays, err := middleware.NewLocalReplayStore(64)
	if err != nil {
		t.Fatalf("new replay store: %v", err)
	}

	return &harness{
		t:       t,
		backend: backend,
		handler: NewRouter(cfg, logger.Nop(), registry, attempts, replays, reg, nil),
	}
}

// do sends a request in the harness session, adopting the id the server
// mints on the first call.
func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.doWithHeaders(method, path, body, nil)
}

func (h *harness) doWithHeaders(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4000"
	if h.session != "" {
		req.Header.Set(sessionHeader, h.session)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if id := rec.Header().Get(sessionHeader); id != "" && h.session == "" {
		h.session = id
	}
	return rec
}

func (h *harness) expect(rec *httptest.ResponseRecorder, status int, dest any) {
	h.t.Helper()
	if rec.Code != status {
		h.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if dest == nil {
		return
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

func (h *harness) expectError(rec *httptest.ResponseRecorder, status int, code pkgerrors.Code) map[string]any {
	h.t.Helper()
	if rec.Code != status {
		h.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		h.t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != string(code) {
		h.t.Fatalf("expected code %s, got %s (%s)", code, envelope.Error.Code, envelope.Error.Message)
	}
	return envelope.Error.Details
}

type cartBody struct {
	Cart      *medusa.Cart `json:"cart"`
	ItemCount int          `json:"item_count"`
}

var guestAddress = map[string]any{
	"first_name":   "Grace",
	"last_name":    "Hopper",
	"address_1":    "10 Downing St",
	"city":         "London",
	"country_code": "GB",
	"postal_code":  "SW1A 2AA",
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", nil)
	h.expect(rec, http.StatusOK, nil)
	if rec.Header().Get("X-Storefront-Env") != "test" {
		t.Fatalf("expected env header, got %q", rec.Header().Get("X-Storefront-Env"))
	}
	h.expect(h.do(http.MethodGet, "/health/ready", nil), http.StatusOK, nil)
	if h.session != "" {
		t.Fatalf("health routes must not mint sessions")
	}
}

func TestSessionIsMintedAndEmptyCartIsNull(t *testing.T) {
	h := newHarness(t)
	var body cartBody
	h.expect(h.do(http.MethodGet, "/v1/cart", nil), http.StatusOK, &body)
	if h.session == "" {
		t.Fatalf("expected a session id to be minted")
	}
	if body.Cart != nil || body.ItemCount != 0 {
		t.Fatalf("expected no cart, got %+v", body)
	}
	if h.backend.CartCount() != 0 {
		t.Fatalf("reading the cart must not create one")
	}
}

func TestCheckoutOverHTTP(t *testing.T) {
	h := newHarness(t)

	var added cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 2}), http.StatusOK, &added)
	if added.Cart == nil || added.Cart.RegionID != "reg_uk" || added.ItemCount != 2 {
		t.Fatalf("unexpected cart after add: %+v", added)
	}

	h.expect(h.do(http.MethodPut, "/v1/cart/email", map[string]any{"email": "Grace@Example.test"}), http.StatusOK, nil)
	h.expect(h.do(http.MethodPut, "/v1/cart/shipping-address", map[string]any{"address": guestAddress}), http.StatusOK, nil)
	var withAddresses cartBody
	h.expect(h.do(http.MethodPut, "/v1/cart/billing-address", map[string]any{"address": guestAddress}), http.StatusOK, &withAddresses)
	if withAddresses.Cart.Email != "grace@example.test" || withAddresses.Cart.BillingAddress.CountryCode != "gb" {
		t.Fatalf("unexpected cart after addresses: %+v", withAddresses.Cart)
	}

	var options struct {
		ShippingOptions []medusa.ShippingOption `json:"shipping_options"`
	}
	h.expect(h.do(http.MethodGet, "/v1/cart/shipping-options", nil), http.StatusOK, &options)
	if len(options.ShippingOptions) == 0 {
		t.Fatalf("expected shipping options")
	}
	var shipped cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/shipping-methods", map[string]any{"option_id": options.ShippingOptions[0].ID}), http.StatusOK, &shipped)
	if shipped.Cart.Total.Int64() != 2*medusatest.UnitPrice+500 {
		t.Fatalf("unexpected total %d", shipped.Cart.Total.Int64())
	}

	var payment struct {
		Cart              *medusa.Cart              `json:"cart"`
		PaymentCollection *medusa.PaymentCollection `json:"payment_collection"`
		Created           bool                      `json:"created"`
		ProviderID        string                    `json:"provider_id"`
		SessionError      any                       `json:"session_error"`
	}
	h.expect(h.do(http.MethodPost, "/v1/cart/payment-collection", nil), http.StatusOK, &payment)
	if !payment.Created || payment.ProviderID != "pp_system_default" || payment.SessionError != nil {
		t.Fatalf("unexpected payment result %+v", payment)
	}

	var status struct {
		HasCart  bool                      `json:"has_cart"`
		Families map[string]map[string]any `json:"families"`
	}
	h.expect(h.do(http.MethodGet, "/v1/cart/status", nil), http.StatusOK, &status)
	if !status.HasCart || status.Families["payment"]["phase"] != "idle" {
		t.Fatalf("unexpected status %+v", status)
	}

	var placed struct {
		Order *medusa.Order `json:"order"`
	}
	idempotent := map[string]string{middleware.IdempotencyHeader: "checkout-1"}
	h.expect(h.doWithHeaders(http.MethodPost, "/v1/cart/complete", nil, idempotent), http.StatusCreated, &placed)
	if placed.Order == nil || placed.Order.ID == "" || placed.Order.Total.Int64() != 2*medusatest.UnitPrice+500 {
		t.Fatalf("unexpected order %+v", placed.Order)
	}

	var replayed struct {
		Order *medusa.Order `json:"order"`
	}
	retry := h.doWithHeaders(http.MethodPost, "/v1/cart/complete", nil, idempotent)
	h.expect(retry, http.StatusCreated, &replayed)
	if retry.Header().Get("Idempotent-Replayed") != "true" || replayed.Order.ID != placed.Order.ID {
		t.Fatalf("expected the retried completion to replay order %s", placed.Order.ID)
	}
	h.expectError(h.do(http.MethodPost, "/v1/cart/complete", nil), http.StatusConflict, pkgerrors.CodeNoActiveCart)

	var after cartBody
	h.expect(h.do(http.MethodGet, "/v1/cart", nil), http.StatusOK, &after)
	if after.Cart != nil {
		t.Fatalf("completed cart must be cleared, got %s", after.Cart.ID)
	}

	metricsRec := h.do(http.MethodGet, "/metrics", nil)
	h.expect(metricsRec, http.StatusOK, nil)
	for _, series := range []string{"storefront_operations_total", "storefront_remote_requests_total"} {
		if !strings.Contains(metricsRec.Body.String(), series) {
			t.Fatalf("expected %s in metrics output", series)
		}
	}
}

func TestCartErrors(t *testing.T) {
	h := newHarness(t)

	details := h.expectError(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"quantity": 0}), http.StatusBadRequest, pkgerrors.CodeValidation)
	if details["variant_id"] != "is required" {
		t.Fatalf("unexpected validation details %v", details)
	}

	h.expectError(h.do(http.MethodPatch, "/v1/cart/line-items/item_1", map[string]any{"quantity": 2}), http.StatusConflict, pkgerrors.CodeNoActiveCart)
	h.expectError(h.do(http.MethodPost, "/v1/cart/complete", nil), http.StatusConflict, pkgerrors.CodeNoActiveCart)

	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 1}), http.StatusOK, nil)
	details = h.expectError(h.do(http.MethodPost, "/v1/cart/complete", nil), http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict)
	if missing, ok := details["missing"].([]any); !ok || len(missing) != 2 {
		t.Fatalf("expected both addresses to be reported missing, got %v", details)
	}

	h.expectError(h.do(http.MethodPatch, "/v1/cart/line-items/item_missing", map[string]any{"quantity": 2}), http.StatusNotFound, pkgerrors.CodeNotFound)
	h.expectError(h.do(http.MethodPut, "/v1/cart/shipping-address", map[string]any{}), http.StatusBadRequest, pkgerrors.CodeValidation)
	h.expectError(h.do(http.MethodPut, "/v1/cart/shipping-address", map[string]any{"address_id": "addr_1"}), http.StatusUnauthorized, pkgerrors.CodeUnauthorized)
	h.expectError(h.do(http.MethodPost, "/v1/cart/customer", nil), http.StatusUnauthorized, pkgerrors.CodeUnauthorized)
}

func TestCartLifecycleEndpoints(t *testing.T) {
	h := newHarness(t)

	var created cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart", nil), http.StatusCreated, &created)
	if created.Cart == nil || created.Cart.RegionID != "reg_uk" {
		t.Fatalf("unexpected created cart %+v", created.Cart)
	}
	var ensured cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart", map[string]any{"region_id": "reg_uk"}), http.StatusOK, &ensured)
	if ensured.Cart.ID != created.Cart.ID {
		t.Fatalf("ensure must reuse the active cart")
	}

	var added cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 1}), http.StatusOK, &added)
	itemID := added.Cart.Items[0].ID

	var updated cartBody
	h.expect(h.do(http.MethodPatch, "/v1/cart/line-items/"+itemID, map[string]any{"quantity": 3}), http.StatusOK, &updated)
	if updated.ItemCount != 3 {
		t.Fatalf("expected 3 items, got %d", updated.ItemCount)
	}
	var removed cartBody
	h.expect(h.do(http.MethodDelete, "/v1/cart/line-items/"+itemID, nil), http.StatusOK, &removed)
	if removed.ItemCount != 0 {
		t.Fatalf("expected empty cart, got %d", removed.ItemCount)
	}

	var promoted cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 2}), http.StatusOK, nil)
	h.expect(h.do(http.MethodPost, "/v1/cart/promotions", map[string]any{"code": " SAVE10 "}), http.StatusOK, &promoted)
	if promoted.Cart.DiscountTotal.Int64() != 200 {
		t.Fatalf("expected 10%% discount, got %d", promoted.Cart.DiscountTotal.Int64())
	}

	var refreshed cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/refresh", nil), http.StatusOK, &refreshed)
	if refreshed.Cart.ID != created.Cart.ID {
		t.Fatalf("refresh returned another cart")
	}

	h.expect(h.do(http.MethodDelete, "/v1/cart", nil), http.StatusNoContent, nil)
	var cleared cartBody
	h.expect(h.do(http.MethodGet, "/v1/cart", nil), http.StatusOK, &cleared)
	if cleared.Cart != nil {
		t.Fatalf("expected cart to be cleared")
	}
}

func TestRegionSelectionMigratesCart(t *testing.T) {
	h := newHarness(t)

	var regions struct {
		Options   []map[string]any `json:"options"`
		Selection any              `json:"selection"`
	}
	h.expect(h.do(http.MethodGet, "/v1/regions", nil), http.StatusOK, &regions)
	if len(regions.Options) != 3 || regions.Selection != nil {
		t.Fatalf("unexpected regions payload %+v", regions)
	}
	if regions.Options[0]["label"] != "France" {
		t.Fatalf("expected options sorted by label, got %v", regions.Options[0])
	}

	var selection struct {
		Selection map[string]any `json:"selection"`
		Cart      *medusa.Cart   `json:"cart"`
	}
	h.expect(h.do(http.MethodGet, "/v1/regions/selection", nil), http.StatusOK, &selection)
	if selection.Selection["country_code"] != "gb" {
		t.Fatalf("expected default selection gb, got %v", selection.Selection)
	}

	var added cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 1}), http.StatusOK, &added)

	h.expect(h.do(http.MethodPut, "/v1/regions/selection", map[string]any{"country_code": "de"}), http.StatusOK, &selection)
	if selection.Selection["region_id"] != "reg_eu" || selection.Cart == nil || selection.Cart.RegionID != "reg_eu" {
		t.Fatalf("expected cart to follow the region, got %+v", selection)
	}
	if selection.Cart.ID != added.Cart.ID {
		t.Fatalf("expected the cart to be migrated in place")
	}

	h.expectError(h.do(http.MethodPut, "/v1/regions/selection", map[string]any{"country_code": "zz"}), http.StatusNotFound, pkgerrors.CodeNotFound)
	h.expectError(h.do(http.MethodPut, "/v1/regions/selection", map[string]any{"country_code": "deu"}), http.StatusBadRequest, pkgerrors.CodeValidation)
	h.expect(h.do(http.MethodPost, "/v1/regions/reload", nil), http.StatusOK, nil)
}

func TestAuthFlowLinksCart(t *testing.T) {
	h := newHarness(t)
	h.backend.AddCustomer("ada@example.test", "analytical", medusa.CustomerAddress{
		Address: medusa.Address{
			ID:          "addr_home",
			FirstName:   "Ada",
			LastName:    "Lovelace",
			Address1:    "12 St James's Sq",
			City:        "London",
			CountryCode: "gb",
			PostalCode:  "SW1Y 4JH",
		},
		IsDefaultShipping: true,
		IsDefaultBilling:  true,
	})

	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 1}), http.StatusOK, nil)

	var signedIn struct {
		Authenticated bool             `json:"authenticated"`
		Customer      *medusa.Customer `json:"customer"`
		Cart          *medusa.Cart     `json:"cart"`
		CartLinked    bool             `json:"cart_linked"`
	}
	h.expect(h.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ada@example.test", "password": "analytical"}), http.StatusOK, &signedIn)
	if !signedIn.Authenticated || signedIn.Customer.Email != "ada@example.test" || !signedIn.CartLinked {
		t.Fatalf("unexpected sign in payload %+v", signedIn)
	}
	if !signedIn.Cart.ShippingAddress.Populated() || signedIn.Cart.ShippingAddress.City != "London" {
		t.Fatalf("expected default address backfill, got %+v", signedIn.Cart.ShippingAddress)
	}
	if strings.Contains(h.do(http.MethodGet, "/v1/auth/me", nil).Body.String(), "tok_") {
		t.Fatalf("token must not be exposed")
	}

	var billed cartBody
	h.expect(h.do(http.MethodPut, "/v1/cart/billing-address", map[string]any{"address_id": "addr_home"}), http.StatusOK, &billed)
	if billed.Cart.BillingAddress.Address1 != "12 St James's Sq" {
		t.Fatalf("unexpected billing address %+v", billed.Cart.BillingAddress)
	}

	var me struct {
		Authenticated bool `json:"authenticated"`
	}
	h.expect(h.do(http.MethodPost, "/v1/auth/logout", nil), http.StatusOK, &me)
	if me.Authenticated {
		t.Fatalf("expected signed out identity")
	}
	var after cartBody
	h.expect(h.do(http.MethodGet, "/v1/cart", nil), http.StatusOK, &after)
	if after.Cart == nil {
		t.Fatalf("logout must keep the cart")
	}
}

func TestLoginFailuresAndRateLimit(t *testing.T) {
	h := newHarness(t)
	h.backend.AddCustomer("ada@example.test", "analytical")

	h.expectError(h.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "not-an-email", "password": "x"}), http.StatusBadRequest, pkgerrors.CodeValidation)
	h.expectError(h.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ada@example.test", "password": "wrong"}), http.StatusUnauthorized, pkgerrors.CodeUnauthorized)
	h.expectError(h.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ada@example.test", "password": "wrong"}), http.StatusUnauthorized, pkgerrors.CodeUnauthorized)
	h.expectError(h.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ada@example.test", "password": "analytical"}), http.StatusTooManyRequests, pkgerrors.CodeRateLimit)
}

func TestRegisterOwnsNewCart(t *testing.T) {
	h := newHarness(t)

	var registered struct {
		Authenticated bool             `json:"authenticated"`
		Customer      *medusa.Customer `json:"customer"`
	}
	h.expect(h.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"email":      "new@example.test",
		"password":   "long-enough",
		"first_name": "New",
		"last_name":  "Shopper",
	}), http.StatusCreated, &registered)
	if !registered.Authenticated || registered.Customer == nil {
		t.Fatalf("unexpected register payload %+v", registered)
	}

	var added cartBody
	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 1}), http.StatusOK, &added)
	if added.Cart.CustomerID != registered.Customer.ID {
		t.Fatalf("expected the new cart to be owned, got %q", added.Cart.CustomerID)
	}
}

func TestDeclinedPaymentOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.backend.DeclinePayment = true

	h.expect(h.do(http.MethodPost, "/v1/cart/line-items", map[string]any{"variant_id": "variant_tee", "quantity": 1}), http.StatusOK, nil)
	h.expect(h.do(http.MethodPut, "/v1/cart/shipping-address", map[string]any{"address": guestAddress}), http.StatusOK, nil)
	h.expect(h.do(http.MethodPut, "/v1/cart/billing-address", map[string]any{"address": guestAddress}), http.StatusOK, nil)
	h.expect(h.do(http.MethodPost, "/v1/cart/payment-collection", nil), http.StatusOK, nil)

	details := h.expectError(h.do(http.MethodPost, "/v1/cart/complete", nil), http.StatusUnprocessableEntity, pkgerrors.CodeCheckoutRejected)
	if details["reason"] != "payment_authorization_error" {
		t.Fatalf("unexpected rejection details %v", details)
	}
	var still cartBody
	h.expect(h.do(http.MethodGet, "/v1/cart", nil), http.StatusOK, &still)
	if still.Cart == nil {
		t.Fatalf("rejected checkout must keep the cart")
	}
}
