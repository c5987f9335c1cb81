// Package handler exposes proposal submission and resolution reads for
// authenticated validators.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"merit/internal/consensus/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// Service defines the consensus operations the handler needs.
type Service interface {
	Propose(ctx context.Context, p models.Proposal, signature []byte) error
	ResolveIssueValidity(ctx context.Context, key id.IssueKey) (models.Tally, error)
	ResolveSyncSnapshot(ctx context.Context, repo id.RepoKey) (*models.Snapshot, error)
}

// LivenessTracker records validator activity after accepted proposals.
type LivenessTracker interface {
	TouchLastSeen(ctx context.Context, validatorID id.ValidatorID)
}

// Handler handles consensus endpoints. All routes sit behind the validator
// JWT middleware, which places the validator ID in the request context.
type Handler struct {
	consensus Service
	liveness  LivenessTracker
	logger    *slog.Logger
}

func New(consensus Service, liveness LivenessTracker, logger *slog.Logger) *Handler {
	return &Handler{consensus: consensus, liveness: liveness, logger: logger}
}

// Register registers the consensus routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/proposals", h.handlePropose)
	r.Get("/issues/{owner}/{repo}/{number}", h.handleResolveIssue)
	r.Get("/snapshots/{owner}/{repo}", h.handleResolveSnapshot)
}

type proposalRequest struct {
	SubjectKey   string  `json:"subject_key"`
	Kind         string  `json:"kind"`
	Verdict      *bool   `json:"verdict,omitempty"`
	IssueNumbers []int64 `json:"issue_numbers,omitempty"`
	Epoch        int64   `json:"epoch"`
	Signature    string  `json:"signature,omitempty"`
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	validatorID := requestcontext.ValidatorID(ctx)
	if validatorID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "validator authentication required"))
		return
	}

	var req proposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	err := h.consensus.Propose(ctx, models.Proposal{
		ValidatorID:  validatorID,
		SubjectKey:   req.SubjectKey,
		Kind:         models.SubjectKind(req.Kind),
		Verdict:      req.Verdict,
		IssueNumbers: req.IssueNumbers,
		Epoch:        id.Epoch(req.Epoch),
	}, []byte(req.Signature))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "proposal submission failed",
				"request_id", requestcontext.RequestID(ctx),
				"validator_id", validatorID.String(),
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.liveness.TouchLastSeen(ctx, validatorID)
	w.WriteHeader(http.StatusAccepted)
}

type tallyResponse struct {
	Verdict    string `json:"verdict"`
	TrueCount  int    `json:"true_count"`
	FalseCount int    `json:"false_count"`
	Proposals  int    `json:"proposals"`
	Quorum     int    `json:"quorum"`
}

func (h *Handler) handleResolveIssue(w http.ResponseWriter, r *http.Request) {
	repo, err := id.ParseRepoKey(chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "issue number must be a positive integer"))
		return
	}

	tally, err := h.consensus.ResolveIssueValidity(r.Context(), id.IssueKey{Repo: repo, Number: number})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tallyResponse{
		Verdict:    string(tally.Verdict),
		TrueCount:  tally.TrueCount,
		FalseCount: tally.FalseCount,
		Proposals:  tally.Proposals,
		Quorum:     tally.Quorum,
	})
}

type snapshotResponse struct {
	Repo         string    `json:"repo"`
	IssueNumbers []int64   `json:"issue_numbers"`
	Validators   []string  `json:"validators"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

func (h *Handler) handleResolveSnapshot(w http.ResponseWriter, r *http.Request) {
	repo, err := id.ParseRepoKey(chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	snapshot, err := h.consensus.ResolveSyncSnapshot(r.Context(), repo)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if snapshot == nil {
		// Unresolved is a legitimate outcome, not an error.
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"snapshot": nil})
		return
	}
	validators := make([]string, 0, len(snapshot.Validators))
	for _, v := range snapshot.Validators {
		validators = append(validators, v.String())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"snapshot": snapshotResponse{
		Repo:         snapshot.RepoKey.String(),
		IssueNumbers: snapshot.IssueNumbers,
		Validators:   validators,
		ResolvedAt:   snapshot.ResolvedAt,
	}})
}
