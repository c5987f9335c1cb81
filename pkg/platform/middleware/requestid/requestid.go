// Package requestid assigns each request a correlation ID used across logs
// and audit events. Incoming X-Request-ID headers are honored so IDs survive
// proxy hops; otherwise a fresh UUID is generated.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"merit/pkg/requestcontext"
)

// Header is the canonical request ID header.
const Header = "X-Request-ID"

// Middleware injects a request ID into the context and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
