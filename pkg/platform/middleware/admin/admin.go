// Package admin guards administrative routes with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// Header carries the administrative token.
const Header = "X-Admin-Token"

// ActorHeader optionally names the human behind the admin token for audit
// attribution. Defaults to "admin" when absent.
const ActorHeader = "X-Admin-Actor"

// RequireAdminToken rejects requests whose admin token does not match.
// An empty expectedToken disables the admin surface entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if expectedToken == "" {
				logger.WarnContext(ctx, "admin surface disabled, no token configured",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin interface is disabled"))
				return
			}

			token := r.Header.Get(Header)
			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			actor := r.Header.Get(ActorHeader)
			if actor == "" {
				actor = "admin"
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}
