package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
}

// CORS applies the allowed origin policy. The session and request id headers
// are exposed so browser clients can persist them.
func CORS(origins []string, sessionHeader string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	if sessionHeader == "" {
		sessionHeader = DefaultSessionHeader
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", requestIDHeader, sessionHeader},
		ExposedHeaders:   []string{requestIDHeader, sessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
