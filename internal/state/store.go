// Package state persists the per-shopper blobs that survive restarts: the
// active cart snapshot, the region selection, and the session bearer token.
package state

import (
	"context"
	"fmt"
	"strings"
)

// Key names one of the persisted blobs.
type Key string

const (
	KeyCart            Key = "cart"
	KeyRegionSelection Key = "region_selection"
	KeyAuthToken       Key = "auth_token"
)

// Valid reports whether k is one of the known keys.
func (k Key) Valid() bool {
	switch k {
	case KeyCart, KeyRegionSelection, KeyAuthToken:
		return true
	default:
		return false
	}
}

// Store is the key/blob contract consumed by the selector, auth session and cart engine.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte) error
	Remove(ctx context.Context, key Key) error
}

// Backend stores blobs for many shoppers, partitioned by scope.
type Backend interface {
	Load(ctx context.Context, scope string, key Key) ([]byte, bool, error)
	Save(ctx context.Context, scope string, key Key, value []byte) error
	Delete(ctx context.Context, scope string, key Key) error
}

type scoped struct {
	backend Backend
	scope   string
}

// Scoped returns the Store view of backend for one shopper session.
func Scoped(backend Backend, scope string) (Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("state backend required")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, fmt.Errorf("state scope required")
	}
	return &scoped{backend: backend, scope: scope}, nil
}

func (s *scoped) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	return s.backend.Load(ctx, s.scope, key)
}

func (s *scoped) Set(ctx context.Context, key Key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.backend.Save(ctx, s.scope, key, value)
}

func (s *scoped) Remove(ctx context.Context, key Key) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.backend.Delete(ctx, s.scope, key)
}

func checkKey(key Key) error {
	if !key.Valid() {
		return fmt.Errorf("unknown state key %q", key)
	}
	return nil
}
