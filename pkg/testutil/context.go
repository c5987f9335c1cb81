package testutil

import (
	"net/http"
	"time"

	id "merit/pkg/domain"
	"merit/pkg/requestcontext"
)

// WithValidator places an authenticated validator ID in the request context,
// simulating what the JWT middleware does for accepted tokens.
func WithValidator(req *http.Request, validatorID string) *http.Request {
	parsed, err := id.ParseValidatorID(validatorID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithValidatorID(req.Context(), parsed))
}

// WithActor places an admin actor name in the request context, simulating
// the admin token middleware.
func WithActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithRequestTime pins the request clock so time-dependent behavior
// (override expiry, epoch stamps) is deterministic.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
