package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
)

type lineItemBody struct {
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type optionalBody struct {
	RegionID string `json:"region_id"`
}

func TestDecodeJSONBody(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var body lineItemBody
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"variant_id":"variant_1","quantity":2}`))
		if err := DecodeJSONBody(req, &body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if body.VariantID != "variant_1" || body.Quantity != 2 {
			t.Fatalf("unexpected body %+v", body)
		}
	})

	t.Run("field errors use json names", func(t *testing.T) {
		var body lineItemBody
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0}`))
		err := DecodeJSONBody(req, &body)
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
		details, ok := typed.Details().(map[string]string)
		if !ok {
			t.Fatalf("unexpected details %T", typed.Details())
		}
		if details["variant_id"] != "is required" || details["quantity"] != "must be at least 1" {
			t.Fatalf("unexpected details %v", details)
		}
	})

	t.Run("unknown fields", func(t *testing.T) {
		var body lineItemBody
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"variant_id":"v","quantity":1,"price":1}`))
		if !pkgerrors.HasCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation) {
			t.Fatalf("expected unknown fields to be rejected")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		var body lineItemBody
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		if !pkgerrors.HasCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation) {
			t.Fatalf("expected empty body to be rejected")
		}
	})
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	var body optionalBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeOptionalJSONBody(req, &body); err != nil {
		t.Fatalf("empty body should be accepted: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"region_id":"reg_eu"}`))
	if err := DecodeOptionalJSONBody(req, &body); err != nil || body.RegionID != "reg_eu" {
		t.Fatalf("unexpected decode body=%+v err=%v", body, err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  SAVE10  ", 4); got != "SAVE" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
}
