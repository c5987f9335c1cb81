// Package handler exposes participant registration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"merit/internal/registry/models"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/httputil"
	"merit/pkg/requestcontext"
)

// Service defines the registry operations the handler needs.
type Service interface {
	Register(ctx context.Context, rawKey, rawIdentity string) (*models.Participant, error)
	Get(ctx context.Context, rawKey string) (*models.Participant, error)
	List(ctx context.Context) ([]models.Participant, error)
}

// Handler handles participant endpoints.
type Handler struct {
	registry Service
	logger   *slog.Logger
}

func New(registry Service, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Register registers the participant routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/participants", h.handleRegister)
	r.Get("/participants", h.handleList)
	r.Get("/participants/{key}", h.handleGet)
}

type registerRequest struct {
	ParticipantKey   string `json:"participant_key"`
	ExternalIdentity string `json:"external_identity"`
}

type participantResponse struct {
	ParticipantKey   string    `json:"participant_key"`
	ExternalIdentity string    `json:"external_identity"`
	RegisteredEpoch  int64     `json:"registered_epoch"`
	RegisteredAt     time.Time `json:"registered_at"`
}

func toParticipantResponse(p *models.Participant) participantResponse {
	return participantResponse{
		ParticipantKey:   p.Key.String(),
		ExternalIdentity: p.ExternalIdentity.String(),
		RegisteredEpoch:  int64(p.RegisteredEpoch),
		RegisteredAt:     p.RegisteredAt,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	p, err := h.registry.Register(ctx, req.ParticipantKey, req.ExternalIdentity)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) || dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to register participant",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toParticipantResponse(p))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toParticipantResponse(p))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	participants, err := h.registry.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]participantResponse, 0, len(participants))
	for i := range participants {
		out = append(out, toParticipantResponse(&participants[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
