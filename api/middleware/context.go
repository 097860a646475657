package middleware

import (
	"context"

	"github.com/angelmondragon/storefront-engine/internal/storefront"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
)

type contextKey string

const (
	ctxRequestID contextKey = "request_id"
	ctxSession   contextKey = "storefront_session"
)

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		return v
	}
	return ""
}

// SessionFromContext returns the shopper session resolved for the request.
func SessionFromContext(ctx context.Context) *storefront.Session {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxSession).(*storefront.Session); ok {
		return v
	}
	return nil
}

// WithRequestID injects the request identifier into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRequestID, requestID)
}

// WithSession injects the shopper session for downstream handlers.
func WithSession(ctx context.Context, session *storefront.Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxSession, session)
}

// RequireSession returns the request's shopper session or an internal error
// when the route was mounted without the session middleware.
func RequireSession(ctx context.Context) (*storefront.Session, error) {
	if session := SessionFromContext(ctx); session != nil {
		return session, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "storefront session missing")
}
