package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-engine/internal/state"
	pkgAuth "github.com/angelmondragon/storefront-engine/pkg/auth"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/observable"
)

const invalidCredentialsMessage = "invalid credentials"

type customerClient interface {
	Login(ctx context.Context, email, password string) (string, error)
	RegisterIdentity(ctx context.Context, email, password string) (string, error)
	CreateCustomer(ctx context.Context, registrationToken string, in medusa.NewCustomer) (*medusa.Customer, error)
	Me(ctx context.Context, token string) (*medusa.Customer, error)
}

// Session owns the shopper's bearer token and publishes identity changes.
// It satisfies medusa.TokenSource so authenticated cart calls pick the token up.
type Session struct {
	client customerClient
	store  state.Store
	logg   *logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string

	identity *observable.Value[Identity]
}

// NewSession builds an auth session backed by store.
func NewSession(client customerClient, store state.Store, logg *logger.Logger) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("customer client required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Session{
		client:   client,
		store:    store,
		logg:     logg,
		now:      time.Now,
		identity: observable.New(Identity{}),
	}, nil
}

// Token returns the current bearer token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Identity returns the latest published identity.
func (s *Session) Identity() Identity {
	return s.identity.Current()
}

// Subscribe registers fn for identity changes and returns its unsubscribe handle.
func (s *Session) Subscribe(fn func(Identity)) func() {
	return s.identity.Subscribe(fn)
}

// Login exchanges credentials for a token and loads the customer profile.
// The token is persisted and published only after the profile fetch succeeds.
func (s *Session) Login(ctx context.Context, req LoginRequest) (Identity, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "email and password are required")
	}

	token, err := s.client.Login(ctx, email, req.Password)
	if err != nil {
		if medusa.IsRejection(err) && !pkgerrors.HasCode(err, pkgerrors.CodeRateLimit) {
			return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, invalidCredentialsMessage)
		}
		return Identity{}, err
	}
	return s.adopt(ctx, token)
}

// Register creates the auth identity and customer profile, then signs in.
func (s *Session) Register(ctx context.Context, req RegisterRequest) (Identity, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "email and password are required")
	}

	registrationToken, err := s.client.RegisterIdentity(ctx, email, req.Password)
	if err != nil {
		return Identity{}, err
	}
	if _, err := s.client.CreateCustomer(ctx, registrationToken, medusa.NewCustomer{
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     strings.TrimSpace(req.Phone),
	}); err != nil {
		return Identity{}, err
	}
	return s.Login(ctx, LoginRequest{Email: email, Password: req.Password})
}

// Logout forgets the token locally. The backend keeps no session to revoke.
func (s *Session) Logout(ctx context.Context) error {
	s.setToken("")
	s.identity.Set(Identity{})
	if err := s.store.Remove(ctx, state.KeyAuthToken); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove auth token")
	}
	return nil
}

// Restore reloads a persisted token. Expired or rejected tokens are removed;
// a transport failure keeps the token so a later Restore can try again.
func (s *Session) Restore(ctx context.Context) (Identity, error) {
	raw, ok, err := s.store.Get(ctx, state.KeyAuthToken)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load auth token")
	}
	token := strings.TrimSpace(string(raw))
	if !ok || token == "" {
		return Identity{}, nil
	}
	if pkgAuth.Expired(token, s.now()) {
		s.logg.Info(ctx, "discarding expired auth token")
		return Identity{}, s.discard(ctx)
	}

	customer, err := s.client.Me(ctx, token)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
			s.logg.Info(ctx, "discarding rejected auth token")
			return Identity{}, s.discard(ctx)
		}
		return Identity{}, err
	}
	return s.publish(token, customer), nil
}

// RefreshProfile re-reads the signed-in customer, picking up address changes.
func (s *Session) RefreshProfile(ctx context.Context) (Identity, error) {
	token := s.Token()
	if token == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "not signed in")
	}
	customer, err := s.client.Me(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return s.publish(token, customer), nil
}

func (s *Session) adopt(ctx context.Context, token string) (Identity, error) {
	customer, err := s.client.Me(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if err := s.store.Set(ctx, state.KeyAuthToken, []byte(token)); err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist auth token")
	}
	identity := s.publish(token, customer)
	s.logg.Info(s.logg.WithCustomerID(ctx, customer.ID), "customer signed in")
	return identity, nil
}

func (s *Session) publish(token string, customer *medusa.Customer) Identity {
	s.setToken(token)
	identity := Identity{Token: token, Customer: customer}
	s.identity.Set(identity)
	return identity
}

func (s *Session) discard(ctx context.Context) error {
	s.setToken("")
	if err := s.store.Remove(ctx, state.KeyAuthToken); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove auth token")
	}
	return nil
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
