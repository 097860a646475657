package medusa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout             = 10 * time.Second
	errorBodyReadLimit   int64 = 4096
	responseReadLimit    int64 = 8 << 20
	publishableKeyHeader       = "x-publishable-api-key"
	requestIDHeader            = "X-Request-Id"
	storePrefix                = "store"
	authPathPrefix             = "auth/"
)

var (
	errBaseURLRequired        = errors.New("medusa base url is required")
	errPublishableKeyRequired = errors.New("medusa publishable key is required")
)

// TokenSource supplies the bearer token for authenticated calls. An empty
// token sends the request without an Authorization header.
type TokenSource interface {
	Token() string
}

// RemoteObserver is notified once per request with the response status, or
// zero when no response was received.
type RemoteObserver interface {
	ObserveRemote(method string, status int)
}

// Client talks to the store API of a Medusa backend.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	publishableKey string
	timeout        time.Duration
	limiter        *rate.Limiter
	tokens         TokenSource
	observer       RemoteObserver
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds every request. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit caps outbound requests per second across every session sharing the client.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithObserver reports every request outcome, typically to metrics.
func WithObserver(observer RemoteObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient builds a client for the backend at baseURL.
func NewClient(baseURL, publishableKey string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, errBaseURLRequired
	}
	trimmedKey := strings.TrimSpace(publishableKey)
	if trimmedKey == "" {
		return nil, errPublishableKeyRequired
	}

	client := &Client{
		baseURL:        trimmedURL,
		publishableKey: trimmedKey,
		timeout:        defaultTimeout,
		httpClient:     &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// WithTokenSource returns a copy of the client that authenticates with src.
// The copy shares the HTTP client and rate limiter with its parent.
func (c *Client) WithTokenSource(src TokenSource) *Client {
	clone := *c
	clone.tokens = src
	return &clone
}

// Request describes one call against the store API. Paths are relative; paths
// under auth/ are sent from the backend root, all others under /store.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Body          any
	Authenticated bool
	// Bearer overrides the token source for this call.
	Bearer string
}

// Response is a successful (2xx) exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Send issues req. Transport failures and timeouts return a retryable
// DEPENDENCY_ERROR; non-2xx responses return a *StatusError wrapped with a
// code derived from the status.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "medusa client not configured")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "waiting for medusa rate limit")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal medusa request")
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(req.Path, req.Query), body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build medusa request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(publishableKeyHeader, c.publishableKey)
	httpReq.Header.Set(requestIDHeader, uuid.NewString())
	if token := c.bearer(req); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(method, 0)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "medusa request timed out")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute medusa request")
	}
	defer func() { _ = resp.Body.Close() }()
	c.observe(method, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, newStatusError(method, req.Path, resp.StatusCode, raw)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read medusa response")
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

func (c *Client) bearer(req Request) string {
	if req.Bearer != "" {
		return req.Bearer
	}
	if !req.Authenticated || c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) observe(method string, status int) {
	if c.observer != nil {
		c.observer.ObserveRemote(method, status)
	}
}

func (c *Client) buildURL(path string, query url.Values) string {
	path = strings.TrimLeft(path, "/")
	var full string
	if strings.HasPrefix(path, authPathPrefix) {
		full = fmt.Sprintf("%s/%s", c.baseURL, path)
	} else {
		full = fmt.Sprintf("%s/%s/%s", c.baseURL, storePrefix, path)
	}
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}
