package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-engine/api/responses"
	"github.com/angelmondragon/storefront-engine/internal/storefront"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
)

// DefaultSessionHeader carries the shopper session id.
const DefaultSessionHeader = "X-Storefront-Session"

// SessionResolver hands out a shopper session held for one request; release
// is called once the request completes.
type SessionResolver interface {
	Acquire(ctx context.Context, id string) (*storefront.Session, func(), error)
}

// Session resolves the shopper session named by header. Requests without one
// get a fresh id, echoed back so the caller can reuse it.
func Session(resolver SessionResolver, header string, logg *logger.Logger) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultSessionHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" {
				id = uuid.NewString()
			} else if cleaned, ok := cleanID(id); ok {
				id = cleaned
			} else {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid session id").
					WithDetails(map[string]string{"header": header}))
				return
			}

			w.Header().Set(header, id)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, id)
			}

			session, release, err := resolver.Acquire(ctx, id)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve session"))
				return
			}
			defer release()

			next.ServeHTTP(w, r.WithContext(WithSession(ctx, session)))
		})
	}
}
