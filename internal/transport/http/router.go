// Package http assembles the service's single chi router: public reads,
// validator routes behind JWT, and the admin surface behind the shared
// token.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	consensushandler "merit/internal/consensus/handler"
	synchandler "merit/internal/githubsync/handler"
	ledgerhandler "merit/internal/ledger/handler"
	"merit/internal/platform/metrics"
	registryhandler "merit/internal/registry/handler"
	rewardshandler "merit/internal/rewards/handler"
	validatorhandler "merit/internal/validator/handler"
	"merit/pkg/platform/httputil"
	"merit/pkg/platform/middleware/admin"
	"merit/pkg/platform/middleware/auth"
	"merit/pkg/platform/middleware/metadata"
	"merit/pkg/platform/middleware/requestid"
	"merit/pkg/platform/middleware/requesttime"
)

// HealthChecker reports one dependency's health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers collects every context's handler for assembly.
type Handlers struct {
	Registry  *registryhandler.Handler
	Rewards   *rewardshandler.Handler
	Ledger    *ledgerhandler.Handler
	Consensus *consensushandler.Handler
	Validator *validatorhandler.Handler
	Sync      *synchandler.Handler
}

// Config carries the router's cross-cutting collaborators.
type Config struct {
	AdminToken     string
	TokenValidator auth.TokenValidator
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Readiness      []HealthChecker
}

// NewRouter builds the full route tree.
func NewRouter(h Handlers, cfg Config) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		for _, check := range cfg.Readiness {
			if err := check.Health(req.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		h.Registry.Register(v1)
		h.Rewards.Register(v1)
		h.Ledger.Register(v1)
		h.Validator.Register(v1)

		v1.Route("/consensus", func(cr chi.Router) {
			cr.Use(auth.RequireValidatorToken(cfg.TokenValidator, cfg.Logger))
			h.Consensus.Register(cr)
		})

		v1.Route("/admin", func(ar chi.Router) {
			ar.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
			h.Rewards.RegisterAdmin(ar)
			h.Validator.RegisterAdmin(ar)
			h.Sync.RegisterAdmin(ar)
		})
	})

	return r
}
