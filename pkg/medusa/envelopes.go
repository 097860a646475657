package medusa

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/tidwall/gjson"
)

// Completion types carried in the "type" discriminant of cart completion.
const (
	CompletionOrder = "order"
	CompletionCart  = "cart"
)

// Completion is the tagged result of completing a cart: either an order, or
// the cart handed back together with the reason it could not be completed.
type Completion struct {
	Type  string
	Order *Order
	Cart  *Cart
	Error *CompletionError
}

type CompletionError struct {
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (e *CompletionError) String() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}

// LineItemDeletion is the acknowledgement returned when a line item is removed.
// Cart is nil when the backend did not echo the parent cart.
type LineItemDeletion struct {
	ID      string
	Object  string
	Deleted bool
	Cart    *Cart
}

// decodeObject unmarshals the JSON object at path into dst. It reports false,
// without error, when the path is absent or not an object.
func decodeObject(body []byte, path string, dst any) (bool, error) {
	result := gjson.GetBytes(body, path)
	if !result.Exists() || !result.IsObject() {
		return false, nil
	}
	if err := json.Unmarshal([]byte(result.Raw), dst); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode medusa %s", path))
	}
	return true, nil
}

func decodeArray(body []byte, path string, dst any) error {
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return errMalformed(path)
	}
	if !result.IsArray() {
		return errMalformed(path + " list")
	}
	if err := json.Unmarshal([]byte(result.Raw), dst); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode medusa %s", path))
	}
	return nil
}

// requireCart decodes {"cart": {...}} and fails when the envelope is missing.
func requireCart(body []byte) (*Cart, error) {
	cart, ok, err := optionalCart(body, "cart")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errMalformed("cart")
	}
	return cart, nil
}

func optionalCart(body []byte, path string) (*Cart, bool, error) {
	var cart Cart
	ok, err := decodeObject(body, path, &cart)
	if err != nil || !ok {
		return nil, false, err
	}
	if cart.ID == "" {
		return nil, false, nil
	}
	return &cart, true, nil
}

func decodeCompletion(body []byte) (*Completion, error) {
	kind := gjson.GetBytes(body, "type").String()
	switch kind {
	case CompletionOrder:
		var order Order
		ok, err := decodeObject(body, "order", &order)
		if err != nil {
			return nil, err
		}
		if !ok || order.ID == "" {
			return nil, errMalformed("order")
		}
		return &Completion{Type: CompletionOrder, Order: &order}, nil
	case CompletionCart:
		cart, ok, err := optionalCart(body, "cart")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errMalformed("cart")
		}
		completion := &Completion{Type: CompletionCart, Cart: cart}
		if errResult := gjson.GetBytes(body, "error"); errResult.IsObject() {
			var reason CompletionError
			if err := json.Unmarshal([]byte(errResult.Raw), &reason); err == nil {
				completion.Error = &reason
			}
		} else if errResult.Type == gjson.String {
			completion.Error = &CompletionError{Message: errResult.String()}
		}
		return completion, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unexpected cart completion type %q", kind))
	}
}

// decodeLineItemDeletion never fails on the parent cart: a missing or
// malformed echo leaves Cart nil and the caller re-fetches.
func decodeLineItemDeletion(body []byte) (*LineItemDeletion, error) {
	if !gjson.ValidBytes(body) {
		return nil, errMalformed("line item deletion")
	}
	deletion := &LineItemDeletion{
		ID:      gjson.GetBytes(body, "id").String(),
		Object:  gjson.GetBytes(body, "object").String(),
		Deleted: gjson.GetBytes(body, "deleted").Bool(),
	}
	for _, path := range []string{"parent", "cart"} {
		if cart, ok, err := optionalCart(body, path); err == nil && ok {
			deletion.Cart = cart
			break
		}
	}
	return deletion, nil
}
