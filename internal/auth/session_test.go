package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-engine/internal/state"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeCustomerClient struct {
	loginToken    string
	loginErr      error
	registerToken string
	registerErr   error
	createErr     error
	created       []medusa.NewCustomer
	createdWith   string
	customers     map[string]*medusa.Customer
	meErr         error
	meTokens      []string
}

func (f *fakeCustomerClient) Login(_ context.Context, email, password string) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.loginToken, nil
}

func (f *fakeCustomerClient) RegisterIdentity(_ context.Context, email, password string) (string, error) {
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return f.registerToken, nil
}

func (f *fakeCustomerClient) CreateCustomer(_ context.Context, token string, in medusa.NewCustomer) (*medusa.Customer, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdWith = token
	f.created = append(f.created, in)
	return &medusa.Customer{ID: "cus_new", Email: in.Email}, nil
}

func (f *fakeCustomerClient) Me(_ context.Context, token string) (*medusa.Customer, error) {
	f.meTokens = append(f.meTokens, token)
	if f.meErr != nil {
		return nil, f.meErr
	}
	customer, ok := f.customers[token]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown token")
	}
	return customer, nil
}

func newSession(t *testing.T, client *fakeCustomerClient) (*Session, state.Store) {
	t.Helper()
	store, err := state.Scoped(state.NewMemoryBackend(), "shopper")
	require.NoError(t, err)
	session, err := NewSession(client, store, nil)
	require.NoError(t, err)
	return session, store
}

func mintCustomerToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"actor_id": "cus_1", "actor_type": "customer", "exp": exp.Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend"))
	require.NoError(t, err)
	return signed
}

func TestLoginPersistsTokenAndPublishesIdentity(t *testing.T) {
	client := &fakeCustomerClient{
		loginToken: "tok_1",
		customers:  map[string]*medusa.Customer{"tok_1": {ID: "cus_1", Email: "a@b.test"}},
	}
	session, store := newSession(t, client)

	var published []Identity
	session.Subscribe(func(id Identity) { published = append(published, id) })

	identity, err := session.Login(context.Background(), LoginRequest{Email: " A@B.test ", Password: "secret"})
	require.NoError(t, err)
	require.True(t, identity.Authenticated())
	require.Equal(t, "cus_1", identity.CustomerID())
	require.Equal(t, "tok_1", session.Token())
	require.Equal(t, []string{"tok_1"}, client.meTokens)

	raw, ok, err := store.Get(context.Background(), state.KeyAuthToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok_1", string(raw))

	require.Len(t, published, 1)
	require.Equal(t, "cus_1", published[0].CustomerID())
}

func TestLoginProfileFailureLeavesSessionSignedOut(t *testing.T) {
	client := &fakeCustomerClient{
		loginToken: "tok_1",
		meErr:      pkgerrors.New(pkgerrors.CodeDependency, "timeout"),
	}
	session, store := newSession(t, client)

	_, err := session.Login(context.Background(), LoginRequest{Email: "a@b.test", Password: "secret"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	require.Empty(t, session.Token())
	require.False(t, session.Identity().Authenticated())

	_, ok, err := store.Get(context.Background(), state.KeyAuthToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoginRejectedCredentialsAreUnauthorized(t *testing.T) {
	client := &fakeCustomerClient{loginErr: &medusa.StatusError{Method: http.MethodPost, Path: "auth/customer/emailpass", Status: http.StatusBadRequest}}
	session, _ := newSession(t, client)

	_, err := session.Login(context.Background(), LoginRequest{Email: "a@b.test", Password: "wrong"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestLoginRequiresCredentials(t *testing.T) {
	session, _ := newSession(t, &fakeCustomerClient{})
	_, err := session.Login(context.Background(), LoginRequest{Email: " ", Password: "x"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRegisterCreatesCustomerThenLogsIn(t *testing.T) {
	client := &fakeCustomerClient{
		registerToken: "reg_tok",
		loginToken:    "tok_2",
		customers:     map[string]*medusa.Customer{"tok_2": {ID: "cus_new", Email: "new@b.test"}},
	}
	session, _ := newSession(t, client)

	identity, err := session.Register(context.Background(), RegisterRequest{
		Email:     "New@B.test",
		Password:  "long-enough",
		FirstName: " Ada ",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	require.Equal(t, "reg_tok", client.createdWith)
	require.Equal(t, []medusa.NewCustomer{{Email: "new@b.test", FirstName: "Ada", LastName: "Lovelace"}}, client.created)
	require.Equal(t, "cus_new", identity.CustomerID())
	require.Equal(t, "tok_2", session.Token())
}

func TestRegisterStopsWhenProfileCreationFails(t *testing.T) {
	client := &fakeCustomerClient{registerToken: "reg_tok", createErr: errors.New("boom")}
	session, _ := newSession(t, client)

	_, err := session.Register(context.Background(), RegisterRequest{Email: "a@b.test", Password: "long-enough"})
	require.Error(t, err)
	require.Empty(t, client.meTokens)
	require.Empty(t, session.Token())
}

func TestLogoutClearsTokenAndPublishesGuest(t *testing.T) {
	client := &fakeCustomerClient{
		loginToken: "tok_1",
		customers:  map[string]*medusa.Customer{"tok_1": {ID: "cus_1"}},
	}
	session, store := newSession(t, client)
	_, err := session.Login(context.Background(), LoginRequest{Email: "a@b.test", Password: "secret"})
	require.NoError(t, err)

	var last Identity
	session.Subscribe(func(id Identity) { last = id })
	require.NoError(t, session.Logout(context.Background()))

	require.False(t, last.Authenticated())
	require.Empty(t, session.Token())
	_, ok, err := store.Get(context.Background(), state.KeyAuthToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("valid token", func(t *testing.T) {
		token := mintCustomerToken(t, now.Add(time.Hour))
		client := &fakeCustomerClient{customers: map[string]*medusa.Customer{token: {ID: "cus_1"}}}
		session, store := newSession(t, client)
		require.NoError(t, store.Set(ctx, state.KeyAuthToken, []byte(token)))

		identity, err := session.Restore(ctx)
		require.NoError(t, err)
		require.Equal(t, "cus_1", identity.CustomerID())
		require.Equal(t, token, session.Token())
	})

	t.Run("expired token is discarded without a call", func(t *testing.T) {
		token := mintCustomerToken(t, now.Add(-time.Minute))
		client := &fakeCustomerClient{}
		session, store := newSession(t, client)
		require.NoError(t, store.Set(ctx, state.KeyAuthToken, []byte(token)))

		identity, err := session.Restore(ctx)
		require.NoError(t, err)
		require.False(t, identity.Authenticated())
		require.Empty(t, client.meTokens)
		_, ok, _ := store.Get(ctx, state.KeyAuthToken)
		require.False(t, ok)
	})

	t.Run("rejected token is discarded", func(t *testing.T) {
		client := &fakeCustomerClient{customers: map[string]*medusa.Customer{}}
		session, store := newSession(t, client)
		require.NoError(t, store.Set(ctx, state.KeyAuthToken, []byte("opaque")))

		identity, err := session.Restore(ctx)
		require.NoError(t, err)
		require.False(t, identity.Authenticated())
		_, ok, _ := store.Get(ctx, state.KeyAuthToken)
		require.False(t, ok)
	})

	t.Run("network failure keeps token", func(t *testing.T) {
		client := &fakeCustomerClient{meErr: pkgerrors.New(pkgerrors.CodeDependency, "down")}
		session, store := newSession(t, client)
		require.NoError(t, store.Set(ctx, state.KeyAuthToken, []byte("opaque")))

		_, err := session.Restore(ctx)
		require.True(t, pkgerrors.IsRetryable(err))
		_, ok, _ := store.Get(ctx, state.KeyAuthToken)
		require.True(t, ok)
	})

	t.Run("nothing stored", func(t *testing.T) {
		session, _ := newSession(t, &fakeCustomerClient{})
		identity, err := session.Restore(ctx)
		require.NoError(t, err)
		require.False(t, identity.Authenticated())
	})
}

func TestRefreshProfileRequiresSignIn(t *testing.T) {
	session, _ := newSession(t, &fakeCustomerClient{})
	_, err := session.RefreshProfile(context.Background())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}
