// Package auth guards validator routes with Bearer JWT authentication.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// TokenValidator verifies a presented token and returns the validator it
// belongs to.
type TokenValidator interface {
	ExtractValidatorID(tokenString string) (id.ValidatorID, error)
}

// RequireValidatorToken rejects requests without a valid Bearer token and
// places the authenticated validator ID in the request context.
func RequireValidatorToken(tokens TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "bearer token required"))
				return
			}

			validatorID, err := tokens.ExtractValidatorID(raw)
			if err != nil {
				logger.WarnContext(ctx, "validator token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithValidatorID(ctx, validatorID)))
		})
	}
}
