// Package handler exposes the published weights, the leaderboard, and the
// administrative override surface.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"merit/internal/rewards/models"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// WeightsService defines the read operations the public surface needs.
type WeightsService interface {
	Current(ctx context.Context) ([]models.WeightEntry, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	Account(ctx context.Context, rawKey string) (*models.RewardAccount, error)
}

// OverrideService defines the administrative bonus operations.
type OverrideService interface {
	Grant(ctx context.Context, rawParticipant string, bonusWeight float64, reason, grantedBy string, duration time.Duration) (*models.Override, error)
	Revoke(ctx context.Context, rawID, revokedBy string) error
	ListActive(ctx context.Context, asOf time.Time) ([]models.Override, error)
	ListAll(ctx context.Context) ([]models.Override, error)
}

// Handler handles rewards endpoints.
type Handler struct {
	weights   WeightsService
	overrides OverrideService
	logger    *slog.Logger
}

func New(weights WeightsService, overrides OverrideService, logger *slog.Logger) *Handler {
	return &Handler{weights: weights, overrides: overrides, logger: logger}
}

// Register registers the public read routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/weights", h.handleWeights)
	r.Get("/leaderboard", h.handleLeaderboard)
	r.Get("/accounts/{key}", h.handleAccount)
}

// RegisterAdmin registers the override routes; the caller mounts them behind
// the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/overrides", h.handleGrantOverride)
	r.Delete("/overrides/{id}", h.handleRevokeOverride)
	r.Get("/overrides", h.handleListOverrides)
}

type weightResponse struct {
	ParticipantKey string  `json:"participant_key"`
	Weight         float64 `json:"weight"`
}

func (h *Handler) handleWeights(w http.ResponseWriter, r *http.Request) {
	entries, err := h.weights.Current(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to serve weights",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	out := make([]weightResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, weightResponse{ParticipantKey: e.ParticipantKey.String(), Weight: e.Weight})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type leaderboardResponse struct {
	Rank             int       `json:"rank"`
	ParticipantKey   string    `json:"participant_key"`
	ExternalIdentity string    `json:"external_identity,omitempty"`
	NormalizedWeight float64   `json:"normalized_weight"`
	RawWeight        float64   `json:"raw_weight"`
	ValidCount       int64     `json:"valid_count"`
	InvalidCount     int64     `json:"invalid_count"`
	StarCount        int64     `json:"star_count"`
	NetPoints        float64   `json:"net_points"`
	IsPenalized      bool      `json:"is_penalized"`
	PendingIssues    int64     `json:"pending_issues"`
	LastActivity     time.Time `json:"last_activity"`
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer"))
			return
		}
		limit = n
	}

	entries, err := h.weights.Leaderboard(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to serve leaderboard",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	out := make([]leaderboardResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, leaderboardResponse{
			Rank:             e.Rank,
			ParticipantKey:   e.ParticipantKey.String(),
			ExternalIdentity: e.ExternalIdentity.String(),
			NormalizedWeight: e.NormalizedWeight,
			RawWeight:        e.RawWeight,
			ValidCount:       e.ValidCount,
			InvalidCount:     e.InvalidCount,
			StarCount:        e.StarCount,
			NetPoints:        e.NetPoints,
			IsPenalized:      e.IsPenalized,
			PendingIssues:    e.PendingIssues,
			LastActivity:     e.LastActivity,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type accountResponse struct {
	ParticipantKey string    `json:"participant_key"`
	ValidCount     int64     `json:"valid_count"`
	InvalidCount   int64     `json:"invalid_count"`
	StarCount      int64     `json:"star_count"`
	LastActivity   time.Time `json:"last_activity"`
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.weights.Account(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accountResponse{
		ParticipantKey: account.ParticipantKey.String(),
		ValidCount:     account.ValidCount,
		InvalidCount:   account.InvalidCount,
		StarCount:      account.StarCount,
		LastActivity:   account.LastActivity,
	})
}

type grantOverrideRequest struct {
	ParticipantKey  string  `json:"participant_key"`
	BonusWeight     float64 `json:"bonus_weight"`
	Reason          string  `json:"reason"`
	DurationSeconds int64   `json:"duration_seconds"`
}

type overrideResponse struct {
	ID             string    `json:"id"`
	ParticipantKey string    `json:"participant_key"`
	BonusWeight    float64   `json:"bonus_weight"`
	Reason         string    `json:"reason"`
	GrantedBy      string    `json:"granted_by"`
	GrantedAt      time.Time `json:"granted_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Active         bool      `json:"active"`
}

func toOverrideResponse(o models.Override) overrideResponse {
	return overrideResponse{
		ID:             o.ID.String(),
		ParticipantKey: o.ParticipantKey.String(),
		BonusWeight:    o.BonusWeight,
		Reason:         o.Reason,
		GrantedBy:      o.GrantedBy,
		GrantedAt:      o.GrantedAt,
		ExpiresAt:      o.ExpiresAt,
		Active:         o.Active,
	}
}

func (h *Handler) handleGrantOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req grantOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	o, err := h.overrides.Grant(ctx, req.ParticipantKey, req.BonusWeight, req.Reason,
		requestcontext.Actor(ctx), time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toOverrideResponse(*o))
}

func (h *Handler) handleRevokeOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.overrides.Revoke(ctx, chi.URLParam(r, "id"), requestcontext.Actor(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		overrides []models.Override
		err       error
	)
	if r.URL.Query().Get("all") == "true" {
		overrides, err = h.overrides.ListAll(ctx)
	} else {
		overrides, err = h.overrides.ListActive(ctx, requestcontext.Now(ctx))
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverrideResponse(o))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
