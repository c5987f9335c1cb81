package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consensushandler "merit/internal/consensus/handler"
	consensusservice "merit/internal/consensus/service"
	consensusstore "merit/internal/consensus/store"
	synchandler "merit/internal/githubsync/handler"
	syncservice "merit/internal/githubsync/service"
	syncstore "merit/internal/githubsync/store"
	"merit/internal/jwttoken"
	ledgeradapters "merit/internal/ledger/adapters"
	ledgerhandler "merit/internal/ledger/handler"
	ledgerservice "merit/internal/ledger/service"
	ledgerstore "merit/internal/ledger/store"
	"merit/internal/platform/github"
	registryhandler "merit/internal/registry/handler"
	regservice "merit/internal/registry/service"
	regstore "merit/internal/registry/store"
	rewardsadapters "merit/internal/rewards/adapters"
	rewardsconfig "merit/internal/rewards/config"
	rewardshandler "merit/internal/rewards/handler"
	overrideservice "merit/internal/rewards/service/override"
	weightsservice "merit/internal/rewards/service/weights"
	accountsstore "merit/internal/rewards/store/accounts"
	overridestore "merit/internal/rewards/store/override"
	validatorhandler "merit/internal/validator/handler"
	validatorservice "merit/internal/validator/service"
	validatorstore "merit/internal/validator/store"
	id "merit/pkg/domain"
)

const testAdminToken = "test-admin-token"

type nullFetcher struct{}

func (nullFetcher) ListIssues(context.Context, id.RepoKey, string) ([]github.Issue, string, error) {
	return nil, "", nil
}

func (nullFetcher) ListStargazers(context.Context, id.RepoKey) ([]github.Star, error) {
	return nil, nil
}

// newTestRouter assembles the full route tree over in-memory stores, the
// same way cmd/server does for development mode.
func newTestRouter(t *testing.T, readiness ...HealthChecker) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := rewardsconfig.Default()

	registrySvc := regservice.New(regstore.NewInMemoryStore(), regservice.WithLogger(logger))
	resolver := ledgeradapters.NewRegistryResolver(registrySvc)

	accounts := accountsstore.NewInMemoryStore()
	issues := ledgerstore.NewInMemoryStore()
	ledgerSvc := ledgerservice.New(issues, accounts, resolver, policy, ledgerservice.WithLogger(logger))

	overrideSvc := overrideservice.New(overridestore.NewInMemoryStore(),
		rewardsadapters.NewRegistryChecker(registrySvc), policy,
		overrideservice.WithLogger(logger))
	weightsSvc := weightsservice.New(accounts, overrideSvc,
		rewardsadapters.NewRegistryDirectory(registrySvc), ledgerSvc, policy,
		weightsservice.WithLogger(logger))

	tokens := jwttoken.NewJWTService("test-signing-key-32-bytes-long!!", "merit", "merit-validators")
	validatorSvc := validatorservice.New(validatorstore.NewInMemoryStore(), tokens, 15*time.Minute,
		validatorservice.WithLogger(logger))
	consensusSvc := consensusservice.New(consensusstore.NewInMemoryStore(), validatorSvc,
		consensusservice.WithLogger(logger))

	syncSvc := syncservice.New("validator-1", nullFetcher{}, consensusSvc, ledgerSvc,
		accounts, resolver, syncstore.NewInMemoryStore(), policy.ValidLabel, policy.InvalidLabel,
		syncservice.WithLogger(logger))

	return NewRouter(Handlers{
		Registry:  registryhandler.New(registrySvc, logger),
		Rewards:   rewardshandler.New(weightsSvc, overrideSvc, logger),
		Ledger:    ledgerhandler.New(ledgerSvc, logger),
		Consensus: consensushandler.New(consensusSvc, validatorSvc, logger),
		Validator: validatorhandler.New(validatorSvc, logger),
		Sync:      synchandler.New(syncSvc, logger),
	}, Config{
		AdminToken:     testAdminToken,
		TokenValidator: tokens,
		Logger:         logger,
		Readiness:      readiness,
	})
}

func doJSON(t *testing.T, router chi.Router, method, path string, payload any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func adminHeader() map[string]string {
	return map[string]string{"X-Admin-Token": testAdminToken}
}

type failingCheck struct{}

func (failingCheck) Health(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := newTestRouter(t, failingCheck{})
	rec = doJSON(t, failing, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParticipantRoutes(t *testing.T) {
	router := newTestRouter(t)
	payload := map[string]string{"participant_key": "alice", "external_identity": "octocat"}

	rec := doJSON(t, router, http.MethodPost, "/v1/participants", payload, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Identical pair: idempotent.
	rec = doJSON(t, router, http.MethodPost, "/v1/participants", payload, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Rebinding: conflict.
	rec = doJSON(t, router, http.MethodPost, "/v1/participants",
		map[string]string{"participant_key": "alice", "external_identity": "hubber"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/participants/alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		ExternalIdentity string `json:"external_identity"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "octocat", p.ExternalIdentity)

	rec = doJSON(t, router, http.MethodGet, "/v1/participants/nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicReadRoutes(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/v1/weights", "/v1/leaderboard", "/v1/stats"} {
		rec := doJSON(t, router, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/leaderboard?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSurfaceRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/admin/overrides", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/admin/overrides", nil,
		map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/admin/overrides", nil, adminHeader())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOverrideAdminFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/participants",
		map[string]string{"participant_key": "alice", "external_identity": "octocat"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/overrides",
		map[string]any{"participant_key": "alice", "bonus_weight": 0.5, "reason": "prize"},
		adminHeader())
	require.Equal(t, http.StatusCreated, rec.Code)

	var granted struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&granted))
	assert.True(t, granted.Active)

	// Unknown participant cannot be granted a bonus.
	rec = doJSON(t, router, http.MethodPost, "/v1/admin/overrides",
		map[string]any{"participant_key": "nobody", "bonus_weight": 0.5},
		adminHeader())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/admin/overrides/"+granted.ID, nil, adminHeader())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/admin/overrides/"+granted.ID, nil, adminHeader())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidatorTokenAndConsensusFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/validators",
		map[string]string{"validator_id": "validator-1"}, adminHeader())
	require.Equal(t, http.StatusCreated, rec.Code)

	var registered struct {
		Secret string `json:"secret"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&registered))
	require.NotEmpty(t, registered.Secret)

	rec = doJSON(t, router, http.MethodPost, "/v1/validator/token",
		map[string]string{"validator_id": "validator-1", "secret": registered.Secret}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
	assert.Equal(t, "Bearer", token.TokenType)

	proposal := map[string]any{
		"subject_key": "acme/tools#42",
		"kind":        "issue_validity",
		"verdict":     true,
		"epoch":       1,
	}

	// No bearer token.
	rec = doJSON(t, router, http.MethodPost, "/v1/consensus/proposals", proposal, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bearer := map[string]string{"Authorization": "Bearer " + token.AccessToken}
	rec = doJSON(t, router, http.MethodPost, "/v1/consensus/proposals", proposal, bearer)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/consensus/issues/acme/tools/42", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)

	var tally struct {
		Verdict   string `json:"verdict"`
		Proposals int    `json:"proposals"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tally))
	assert.Equal(t, "true", tally.Verdict)
	assert.Equal(t, 1, tally.Proposals)

	// Wrong credentials never mint a token.
	rec = doJSON(t, router, http.MethodPost, "/v1/validator/token",
		map[string]string{"validator_id": "validator-1", "secret": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncTargetAdminFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/targets",
		map[string]string{"repo": "acme/tools", "kind": "issues"}, adminHeader())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/admin/targets", nil, adminHeader())
	require.Equal(t, http.StatusOK, rec.Code)

	var targets []struct {
		Repo string `json:"repo"`
		Kind string `json:"kind"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "acme/tools", targets[0].Repo)

	rec = doJSON(t, router, http.MethodGet, "/v1/admin/targets/acme/tools/state", nil, adminHeader())
	assert.Equal(t, http.StatusNotFound, rec.Code, "no sync has run yet")

	rec = doJSON(t, router, http.MethodDelete, "/v1/admin/targets/acme/tools?kind=issues", nil, adminHeader())
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
