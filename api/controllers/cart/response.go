package cart

import (
	"github.com/angelmondragon/storefront-engine/api/responses"
	cartsvc "github.com/angelmondragon/storefront-engine/internal/cart"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

type cartResponse struct {
	Cart      *medusa.Cart `json:"cart"`
	ItemCount int          `json:"item_count"`
}

func newCartResponse(cart *medusa.Cart) cartResponse {
	resp := cartResponse{Cart: cart}
	if cart != nil {
		resp.ItemCount = cart.ItemCount()
	}
	return resp
}

type associationResponse struct {
	Attached           bool            `json:"attached"`
	BackfilledShipping bool            `json:"backfilled_shipping"`
	BackfilledBilling  bool            `json:"backfilled_billing"`
	BackfillError      *types.APIError `json:"backfill_error,omitempty"`
}

func newAssociationResponse(result *cartsvc.AssociationResult) *associationResponse {
	if result == nil {
		return nil
	}
	return &associationResponse{
		Attached:           result.Attached,
		BackfilledShipping: result.BackfilledShipping,
		BackfilledBilling:  result.BackfilledBilling,
		BackfillError:      responses.PublicError(result.BackfillErr),
	}
}

type lineItemResponse struct {
	cartResponse
	Association      *associationResponse `json:"association,omitempty"`
	AssociationError *types.APIError      `json:"association_error,omitempty"`
}

func newLineItemResponse(result *cartsvc.LineItemResult) lineItemResponse {
	return lineItemResponse{
		cartResponse:     newCartResponse(result.Cart),
		Association:      newAssociationResponse(result.Association),
		AssociationError: responses.PublicError(result.AssociationErr),
	}
}

type customerResponse struct {
	cartResponse
	associationResponse
}

func newCustomerResponse(result *cartsvc.AssociationResult) customerResponse {
	return customerResponse{
		cartResponse:        newCartResponse(result.Cart),
		associationResponse: *newAssociationResponse(result),
	}
}

type paymentResponse struct {
	cartResponse
	PaymentCollection *medusa.PaymentCollection `json:"payment_collection"`
	Created           bool                      `json:"created"`
	ProviderID        string                    `json:"provider_id,omitempty"`
	SessionError      *types.APIError           `json:"session_error,omitempty"`
}

func newPaymentResponse(result *cartsvc.PaymentResult) paymentResponse {
	return paymentResponse{
		cartResponse:      newCartResponse(result.Cart),
		PaymentCollection: result.Collection,
		Created:           result.Created,
		ProviderID:        result.ProviderID,
		SessionError:      responses.PublicError(result.SessionErr),
	}
}

type orderResponse struct {
	Order *medusa.Order `json:"order"`
}

type statusResponse struct {
	HasCart  bool                                       `json:"has_cart"`
	CartID   string                                     `json:"cart_id,omitempty"`
	Families map[cartsvc.Family]cartsvc.OperationStatus `json:"families"`
}
