package medusa

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/tidwall/gjson"
)

// ListRegions returns every region configured on the backend.
func (c *Client) ListRegions(ctx context.Context) ([]Region, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodGet, Path: "regions"})
	if err != nil {
		return nil, err
	}
	var regions []Region
	if err := decodeArray(resp.Body, "regions", &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

// CreateCart creates an empty cart priced in regionID's currency.
func (c *Client) CreateCart(ctx context.Context, regionID string) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          "carts",
		Body:          map[string]string{"region_id": regionID},
		Authenticated: true,
	})
}

// GetCart fetches the cart by id.
func (c *Client) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodGet,
		Path:          cartPath(cartID),
		Authenticated: true,
	})
}

// UpdateCart applies region, email, and address changes.
func (c *Client) UpdateCart(ctx context.Context, cartID string, update CartUpdate) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID),
		Body:          update,
		Authenticated: true,
	})
}

// AddLineItem adds quantity units of variantID.
func (c *Client) AddLineItem(ctx context.Context, cartID, variantID string, quantity int) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID, "line-items"),
		Body:          map[string]any{"variant_id": variantID, "quantity": quantity},
		Authenticated: true,
	})
}

// UpdateLineItem sets the quantity of an existing line item.
func (c *Client) UpdateLineItem(ctx context.Context, cartID, lineItemID string, quantity int) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID, "line-items", lineItemID),
		Body:          map[string]int{"quantity": quantity},
		Authenticated: true,
	})
}

// DeleteLineItem removes a line item. The parent cart is returned when the
// backend echoes it.
func (c *Client) DeleteLineItem(ctx context.Context, cartID, lineItemID string) (*LineItemDeletion, error) {
	resp, err := c.Send(ctx, Request{
		Method:        http.MethodDelete,
		Path:          cartPath(cartID, "line-items", lineItemID),
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeLineItemDeletion(resp.Body)
}

// AddShippingMethod attaches a shipping option. The returned cart is nil when
// the response did not carry one.
func (c *Client) AddShippingMethod(ctx context.Context, cartID, optionID string) (*Cart, error) {
	resp, err := c.Send(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID, "shipping-methods"),
		Body:          map[string]string{"option_id": optionID},
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	cart, _, err := optionalCart(resp.Body, "cart")
	return cart, err
}

// ApplyPromotions adds promotion codes to the cart.
func (c *Client) ApplyPromotions(ctx context.Context, cartID string, codes []string) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID, "promotions"),
		Body:          map[string][]string{"promo_codes": codes},
		Authenticated: true,
	})
}

// AttachCustomer links the cart to the customer identified by the bearer token.
func (c *Client) AttachCustomer(ctx context.Context, cartID string) (*Cart, error) {
	return c.cartCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID, "customer"),
		Body:          map[string]string{},
		Authenticated: true,
	})
}

// CompleteCart places the order.
func (c *Client) CompleteCart(ctx context.Context, cartID string) (*Completion, error) {
	resp, err := c.Send(ctx, Request{
		Method:        http.MethodPost,
		Path:          cartPath(cartID, "complete"),
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeCompletion(resp.Body)
}

// ListShippingOptions returns the shipping options available to the cart.
func (c *Client) ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error) {
	resp, err := c.Send(ctx, Request{
		Method:        http.MethodGet,
		Path:          "shipping-options",
		Query:         url.Values{"cart_id": {cartID}},
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	var options []ShippingOption
	if err := decodeArray(resp.Body, "shipping_options", &options); err != nil {
		return nil, err
	}
	return options, nil
}

// ListPaymentProviders returns the providers enabled for a region.
func (c *Client) ListPaymentProviders(ctx context.Context, regionID string) ([]PaymentProvider, error) {
	resp, err := c.Send(ctx, Request{
		Method:        http.MethodGet,
		Path:          "payment-providers",
		Query:         url.Values{"region_id": {regionID}},
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	var providers []PaymentProvider
	if err := decodeArray(resp.Body, "payment_providers", &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// CreatePaymentCollection creates a payment collection for the cart's current total.
func (c *Client) CreatePaymentCollection(ctx context.Context, cartID string) (*PaymentCollection, error) {
	return c.collectionCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          "payment-collections",
		Body:          map[string]string{"cart_id": cartID},
		Authenticated: true,
	})
}

// CreatePaymentSession initializes a provider session on the collection.
func (c *Client) CreatePaymentSession(ctx context.Context, collectionID, providerID string) (*PaymentCollection, error) {
	return c.collectionCall(ctx, Request{
		Method:        http.MethodPost,
		Path:          "payment-collections/" + url.PathEscape(collectionID) + "/payment-sessions",
		Body:          map[string]string{"provider_id": providerID},
		Authenticated: true,
	})
}

// Login exchanges email and password for a customer bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	return c.tokenCall(ctx, "auth/customer/emailpass", email, password)
}

// RegisterIdentity creates an email/password identity and returns its
// registration token, which is only good for creating the customer profile.
func (c *Client) RegisterIdentity(ctx context.Context, email, password string) (string, error) {
	return c.tokenCall(ctx, "auth/customer/emailpass/register", email, password)
}

// CreateCustomer creates the customer profile for a freshly registered identity.
func (c *Client) CreateCustomer(ctx context.Context, registrationToken string, in NewCustomer) (*Customer, error) {
	resp, err := c.Send(ctx, Request{
		Method: http.MethodPost,
		Path:   "customers",
		Body:   in,
		Bearer: registrationToken,
	})
	if err != nil {
		return nil, err
	}
	return requireCustomer(resp.Body)
}

// Me returns the customer owning token, with their saved addresses.
func (c *Client) Me(ctx context.Context, token string) (*Customer, error) {
	resp, err := c.Send(ctx, Request{
		Method: http.MethodGet,
		Path:   "customers/me",
		Query:  url.Values{"fields": {"*addresses"}},
		Bearer: token,
	})
	if err != nil {
		return nil, err
	}
	return requireCustomer(resp.Body)
}

func (c *Client) cartCall(ctx context.Context, req Request) (*Cart, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return requireCart(resp.Body)
}

func (c *Client) collectionCall(ctx context.Context, req Request) (*PaymentCollection, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	var collection PaymentCollection
	ok, err := decodeObject(resp.Body, "payment_collection", &collection)
	if err != nil {
		return nil, err
	}
	if !ok || collection.ID == "" {
		return nil, errMalformed("payment_collection")
	}
	return &collection, nil
}

func (c *Client) tokenCall(ctx context.Context, path, email, password string) (string, error) {
	resp, err := c.Send(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return "", err
	}
	token := gjson.GetBytes(resp.Body, "token")
	if token.Type != gjson.String || strings.TrimSpace(token.String()) == "" {
		// Third-party providers answer with a redirect location instead of a token.
		if location := gjson.GetBytes(resp.Body, "location").String(); location != "" {
			return "", pkgerrors.New(pkgerrors.CodeUnauthorized, fmt.Sprintf("authentication requires redirect to %s", location))
		}
		return "", errMalformed("token")
	}
	return token.String(), nil
}

func requireCustomer(body []byte) (*Customer, error) {
	var customer Customer
	ok, err := decodeObject(body, "customer", &customer)
	if err != nil {
		return nil, err
	}
	if !ok || customer.ID == "" {
		return nil, errMalformed("customer")
	}
	return &customer, nil
}

func cartPath(cartID string, parts ...string) string {
	segments := []string{"carts", url.PathEscape(cartID)}
	for _, part := range parts {
		segments = append(segments, url.PathEscape(part))
	}
	return strings.Join(segments, "/")
}
