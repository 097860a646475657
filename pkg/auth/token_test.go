package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, claims CustomerTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestInspectToken(t *testing.T) {
	now := time.Now().UTC()
	signed := mintToken(t, CustomerTokenClaims{
		ActorID:        "cus_123",
		ActorType:      "customer",
		AuthIdentityID: "authid_1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := InspectToken(signed)
	if err != nil {
		t.Fatalf("inspect token: %v", err)
	}
	if claims.CustomerID() != "cus_123" {
		t.Fatalf("expected customer id cus_123, got %q", claims.CustomerID())
	}
	if claims.ActorType != "customer" {
		t.Fatalf("unexpected actor type %q", claims.ActorType)
	}
	if Expired(signed, now) {
		t.Fatal("token should not be expired yet")
	}
	if !Expired(signed, now.Add(2*time.Hour)) {
		t.Fatal("token should be expired after exp")
	}
}

func TestCustomerIDFallsBackToAppMetadata(t *testing.T) {
	signed := mintToken(t, CustomerTokenClaims{AppMetadata: AppMetadata{CustomerID: "cus_9"}})
	claims, err := InspectToken(signed)
	if err != nil {
		t.Fatalf("inspect token: %v", err)
	}
	if claims.CustomerID() != "cus_9" {
		t.Fatalf("expected cus_9, got %q", claims.CustomerID())
	}
}

func TestOpaqueTokensNeverExpire(t *testing.T) {
	if _, err := InspectToken("not-a-jwt"); err == nil {
		t.Fatal("expected parse error for opaque token")
	}
	if Expired("not-a-jwt", time.Now()) {
		t.Fatal("opaque token must not be treated as expired")
	}
	if _, err := InspectToken("  "); err == nil {
		t.Fatal("expected error for blank token")
	}
}
