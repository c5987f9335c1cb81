// Package handler exposes ledger reads and the claim operation.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// Service defines the ledger operations the handler needs.
type Service interface {
	GetIssue(ctx context.Context, key id.IssueKey) (*models.IssueRecord, error)
	ListByRepo(ctx context.Context, repo id.RepoKey) ([]models.IssueRecord, error)
	ListCreditedTo(ctx context.Context, participant id.ParticipantKey) ([]models.IssueRecord, error)
	Claim(ctx context.Context, rawParticipant string, keys []id.IssueKey) (models.ClaimResult, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Handler handles issue ledger endpoints.
type Handler struct {
	ledger Service
	logger *slog.Logger
}

func New(ledger Service, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// Register registers the ledger routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/issues/{owner}/{repo}", h.handleListByRepo)
	r.Get("/issues/{owner}/{repo}/{number}", h.handleGetIssue)
	r.Get("/participants/{key}/issues", h.handleListCredited)
	r.Post("/participants/{key}/claims", h.handleClaim)
	r.Get("/stats", h.handleStats)
}

type issueResponse struct {
	IssueKey   string     `json:"issue_key"`
	Author     string     `json:"author"`
	IsClosed   bool       `json:"is_closed"`
	Labels     []string   `json:"labels"`
	State      string     `json:"state"`
	CreditedTo *string    `json:"credited_to,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toIssueResponse(rec *models.IssueRecord) issueResponse {
	resp := issueResponse{
		IssueKey:  rec.Key.String(),
		Author:    rec.Author.String(),
		IsClosed:  rec.IsClosed,
		Labels:    rec.Labels,
		State:     string(rec.State),
		DeletedAt: rec.DeletedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.CreditedTo != nil {
		key := rec.CreditedTo.String()
		resp.CreditedTo = &key
	}
	return resp
}

func issueKeyFromURL(r *http.Request) (id.IssueKey, error) {
	repo, err := id.ParseRepoKey(chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo"))
	if err != nil {
		return id.IssueKey{}, err
	}
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number <= 0 {
		return id.IssueKey{}, dErrors.New(dErrors.CodeBadRequest, "issue number must be a positive integer")
	}
	return id.IssueKey{Repo: repo, Number: number}, nil
}

func (h *Handler) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	key, err := issueKeyFromURL(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.ledger.GetIssue(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIssueResponse(rec))
}

func (h *Handler) handleListByRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := id.ParseRepoKey(chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.ledger.ListByRepo(r.Context(), repo)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]issueResponse, 0, len(records))
	for i := range records {
		out = append(out, toIssueResponse(&records[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListCredited(w http.ResponseWriter, r *http.Request) {
	participant, err := id.ParseParticipantKey(chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.ledger.ListCreditedTo(r.Context(), participant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]issueResponse, 0, len(records))
	for i := range records {
		out = append(out, toIssueResponse(&records[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type claimRequest struct {
	Issues []string `json:"issues"`
}

type claimResponse struct {
	Claimed    []string          `json:"claimed"`
	Rejected   map[string]string `json:"rejected"`
	TotalValid int64             `json:"total_valid"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	keys := make([]id.IssueKey, 0, len(req.Issues))
	for _, raw := range req.Issues {
		key, err := id.ParseIssueKey(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		keys = append(keys, key)
	}

	result, err := h.ledger.Claim(ctx, chi.URLParam(r, "key"), keys)
	if err != nil {
		h.logger.ErrorContext(ctx, "claim failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	claimed := make([]string, 0, len(result.Claimed))
	for _, key := range result.Claimed {
		claimed = append(claimed, key.String())
	}
	httputil.WriteJSON(w, http.StatusOK, claimResponse{
		Claimed:    claimed,
		Rejected:   result.Rejected,
		TotalValid: result.TotalValid,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	byState := make(map[string]int64, len(stats.ByState))
	for state, n := range stats.ByState {
		byState[string(state)] = n
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"total_issues": stats.TotalIssues,
		"by_state":     byState,
		"credited":     stats.Credited,
		"penalized":    stats.Penalized,
		"deleted":      stats.Deleted,
	})
}
