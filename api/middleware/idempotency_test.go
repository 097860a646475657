package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-engine/internal/storefront"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
)

type fakeReplayStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	loadErr error
}

func newFakeReplayStore() *fakeReplayStore {
	return &fakeReplayStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (f *fakeReplayStore) LoadReplay(_ context.Context, scope string) ([]byte, bool, error) {
	if f.loadErr != nil {
		return nil, false, f.loadErr
	}
	v, ok := f.data[scope]
	return v, ok, nil
}

func (f *fakeReplayStore) SaveReplay(_ context.Context, scope string, payload []byte, ttl time.Duration) (bool, error) {
	if _, ok := f.data[scope]; ok {
		return false, nil
	}
	f.data[scope] = payload
	f.ttls[scope] = ttl
	return true, nil
}

func completeRequest(sessionID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/cart/complete", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithSession(req.Context(), &storefront.Session{ID: sessionID}))
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	store := newFakeReplayStore()
	calls := 0
	handler := Idempotency(store, CriticalIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, completeRequest("sess-1", "", ""))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201 got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("handler executed %d times, expected 2", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("nothing should be recorded without a key")
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeReplayStore()
	calls := 0
	handler := Idempotency(store, CriticalIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"order":{"id":"order_1"}}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, completeRequest("sess-1", "abc", ""))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected first response 201 got %d", first.Code)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, completeRequest("sess-1", "abc", ""))
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replay status 201 got %d", replay.Code)
	}
	if replay.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(replay.Body.String()) != `{"data":{"order":{"id":"order_1"}}}` {
		t.Fatalf("expected stored body got %s", replay.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for scope, ttl := range store.ttls {
		if !strings.HasPrefix(scope, "sess-1|POST|/v1/cart/complete|") || ttl != CriticalIdempotencyTTL {
			t.Fatalf("unexpected record %s ttl=%v", scope, ttl)
		}
	}

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, completeRequest("sess-2", "abc", ""))
	if other.Header().Get("Idempotent-Replayed") != "" || calls != 2 {
		t.Fatalf("keys must be scoped to the shopper session")
	}
}

func TestIdempotencyDoesNotRecordFailures(t *testing.T) {
	store := newFakeReplayStore()
	status := http.StatusUnprocessableEntity
	handler := Idempotency(store, DefaultIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, completeRequest("sess-1", "retry-me", ""))
	if rec.Code != http.StatusUnprocessableEntity || len(store.data) != 0 {
		t.Fatalf("rejections must not be recorded, code=%d records=%d", rec.Code, len(store.data))
	}

	status = http.StatusCreated
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, completeRequest("sess-1", "retry-me", ""))
	if rec.Code != http.StatusCreated || len(store.data) != 1 {
		t.Fatalf("expected the retry to run and be recorded, code=%d records=%d", rec.Code, len(store.data))
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	store := newFakeReplayStore()
	handler := Idempotency(store, DefaultIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), completeRequest("sess-1", "xyz", `{"provider_id":"pp_a"}`))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, completeRequest("sess-1", "xyz", `{"provider_id":"pp_b"}`))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyStoreFailure(t *testing.T) {
	store := newFakeReplayStore()
	store.loadErr = errors.New("redis down")
	handler := Idempotency(store, DefaultIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run when the store is unavailable")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, completeRequest("sess-1", "abc", ""))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestLocalReplayStoreExpires(t *testing.T) {
	store, err := NewLocalReplayStore(8)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if saved, _ := store.SaveReplay(ctx, "scope", []byte("first"), time.Minute); !saved {
		t.Fatalf("expected first save to succeed")
	}
	if saved, _ := store.SaveReplay(ctx, "scope", []byte("second"), time.Minute); saved {
		t.Fatalf("expected live record to be kept")
	}
	payload, found, _ := store.LoadReplay(ctx, "scope")
	if !found || string(payload) != "first" {
		t.Fatalf("unexpected replay %q found=%v", payload, found)
	}

	now = now.Add(time.Minute)
	if _, found, _ := store.LoadReplay(ctx, "scope"); found {
		t.Fatalf("expected record to expire")
	}
	if saved, _ := store.SaveReplay(ctx, "scope", []byte("third"), time.Minute); !saved {
		t.Fatalf("expected save after expiry to succeed")
	}
}
