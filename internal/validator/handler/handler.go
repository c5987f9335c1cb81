// Package handler exposes validator registration (admin) and the token
// exchange endpoint.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"merit/internal/validator/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// Service defines the validator operations the handler needs.
type Service interface {
	Register(ctx context.Context, rawID, registeredBy string) (*models.Validator, string, error)
	IssueToken(ctx context.Context, rawID, secret string) (string, time.Duration, error)
	SetActive(ctx context.Context, rawID string, active bool) error
	List(ctx context.Context) ([]models.Validator, error)
}

// Handler handles validator endpoints.
type Handler struct {
	validators Service
	logger     *slog.Logger
}

func New(validators Service, logger *slog.Logger) *Handler {
	return &Handler{validators: validators, logger: logger}
}

// Register registers the public token route with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/validator/token", h.handleIssueToken)
}

// RegisterAdmin registers the management routes; the caller mounts them
// behind the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/validators", h.handleRegister)
	r.Get("/validators", h.handleList)
	r.Put("/validators/{id}/active", h.handleSetActive)
}

type registerRequest struct {
	ValidatorID string `json:"validator_id"`
}

type registerResponse struct {
	ValidatorID string `json:"validator_id"`
	Secret      string `json:"secret"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	v, secret, err := h.validators.Register(ctx, req.ValidatorID, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	// The plaintext secret appears in this response and nowhere else.
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		ValidatorID: v.ID.String(),
		Secret:      secret,
	})
}

type tokenRequest struct {
	ValidatorID string `json:"validator_id"`
	Secret      string `json:"secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	token, ttl, err := h.validators.IssueToken(ctx, req.ValidatorID, req.Secret)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	})
}

type validatorResponse struct {
	ID         id.ValidatorID `json:"id"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	validators, err := h.validators.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]validatorResponse, 0, len(validators))
	for _, v := range validators {
		out = append(out, validatorResponse{
			ID:         v.ID,
			Active:     v.Active,
			CreatedAt:  v.CreatedAt,
			LastSeenAt: v.LastSeenAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.validators.SetActive(r.Context(), chi.URLParam(r, "id"), req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
