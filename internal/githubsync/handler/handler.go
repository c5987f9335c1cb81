// Package handler exposes sync target management on the admin surface.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"merit/internal/githubsync/models"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// Service defines the target management operations the handler needs.
type Service interface {
	AddTarget(ctx context.Context, rawRepo string, kind models.TargetKind, addedBy string) (*models.TargetRepo, error)
	RemoveTarget(ctx context.Context, rawRepo string, kind models.TargetKind, removedBy string) error
	ListTargets(ctx context.Context) ([]models.TargetRepo, error)
	SyncState(ctx context.Context, rawRepo string) (*models.SyncState, error)
}

// Handler handles sync administration endpoints.
type Handler struct {
	sync   Service
	logger *slog.Logger
}

func New(sync Service, logger *slog.Logger) *Handler {
	return &Handler{sync: sync, logger: logger}
}

// RegisterAdmin registers the target routes; the caller mounts them behind
// the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/targets", h.handleAddTarget)
	r.Get("/targets", h.handleListTargets)
	r.Delete("/targets/{owner}/{repo}", h.handleRemoveTarget)
	r.Get("/targets/{owner}/{repo}/state", h.handleSyncState)
}

type targetRequest struct {
	Repo string `json:"repo"`
	Kind string `json:"kind"`
}

type targetResponse struct {
	Repo    string    `json:"repo"`
	Kind    string    `json:"kind"`
	Active  bool      `json:"active"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

func toTargetResponse(t models.TargetRepo) targetResponse {
	return targetResponse{
		Repo:    t.Repo.String(),
		Kind:    string(t.Kind),
		Active:  t.Active,
		AddedBy: t.AddedBy,
		AddedAt: t.AddedAt,
	}
}

func (h *Handler) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Kind == "" {
		req.Kind = string(models.KindIssues)
	}

	t, err := h.sync.AddTarget(ctx, req.Repo, models.TargetKind(req.Kind), requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTargetResponse(*t))
}

func (h *Handler) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.sync.ListTargets(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]targetResponse, 0, len(targets))
	for _, t := range targets {
		out = append(out, toTargetResponse(t))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind := models.TargetKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.KindIssues
	}
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	if err := h.sync.RemoveTarget(ctx, repo, kind, requestcontext.Actor(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncStateResponse struct {
	Repo               string     `json:"repo"`
	Epoch              int64      `json:"epoch"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	LastIssueUpdatedAt *time.Time `json:"last_issue_updated_at,omitempty"`
	IssuesSynced       int64      `json:"issues_synced"`
}

func (h *Handler) handleSyncState(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	st, err := h.sync.SyncState(r.Context(), repo)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, syncStateResponse{
		Repo:               st.Repo.String(),
		Epoch:              int64(st.Epoch),
		LastSyncAt:         st.LastSyncAt,
		LastIssueUpdatedAt: st.LastIssueUpdatedAt,
		IssuesSynced:       st.IssuesSynced,
	})
}
