package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	regservice "merit/internal/registry/service"
	regstore "merit/internal/registry/store"
	rewardsadapters "merit/internal/rewards/adapters"
	rewardsconfig "merit/internal/rewards/config"
	overrideservice "merit/internal/rewards/service/override"
	weightsservice "merit/internal/rewards/service/weights"
	accountsstore "merit/internal/rewards/store/accounts"
	overridestore "merit/internal/rewards/store/override"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/testutil"
)

// Justification for handler tests: the service suites already cover the
// computation paths, so these focus on the HTTP contract: routing, status
// codes, the JSON shapes, and how the admin actor flows from context into
// stored rows.

type fixture struct {
	router    chi.Router
	admin     chi.Router
	accounts  *accountsstore.InMemoryStore
	overrides *overrideservice.Service
	registry  *regservice.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := rewardsconfig.Default()

	registrySvc := regservice.New(regstore.NewInMemoryStore())
	accounts := accountsstore.NewInMemoryStore()
	overrideSvc := overrideservice.New(overridestore.NewInMemoryStore(),
		rewardsadapters.NewRegistryChecker(registrySvc), policy)
	weightsSvc := weightsservice.New(accounts, overrideSvc,
		rewardsadapters.NewRegistryDirectory(registrySvc), zeroPending{}, policy)

	h := New(weightsSvc, overrideSvc, log)
	public := chi.NewRouter()
	h.Register(public)
	admin := chi.NewRouter()
	h.RegisterAdmin(admin)

	return &fixture{router: public, admin: admin, accounts: accounts, overrides: overrideSvc, registry: registrySvc}
}

type zeroPending struct{}

func (zeroPending) CountPendingByAuthor(context.Context, id.Login) (int64, error) { return 0, nil }

func (f *fixture) credit(t *testing.T, key string, n int) {
	t.Helper()
	for range n {
		require.NoError(t, f.accounts.IncrementValid(context.Background(), id.ParticipantKey(key), 1, time.Now()))
	}
}

func TestWeightsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.credit(t, "alice", 3)
	f.credit(t, "bob", 1)

	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/weights"))
	testutil.AssertStatusOK(t, rr)

	type entry struct {
		ParticipantKey string  `json:"participant_key"`
		Weight         float64 `json:"weight"`
	}
	entries := testutil.UnmarshalResponse[[]entry](t, rr)
	require.Len(t, *entries, 2)
	assert.Equal(t, "alice", (*entries)[0].ParticipantKey)
	assert.InDelta(t, 0.75, (*entries)[0].Weight, 1e-9)
	assert.InDelta(t, 0.25, (*entries)[1].Weight, 1e-9)
}

func TestAccountEndpoint(t *testing.T) {
	f := newFixture(t)
	f.credit(t, "alice", 2)

	t.Run("returns the tally", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/accounts/alice"))
		testutil.AssertStatusOK(t, rr)
		got := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, "alice", (*got)["participant_key"])
		assert.Equal(t, float64(2), (*got)["valid_count"])
	})

	t.Run("unknown account is 404", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/accounts/nobody"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

func TestLeaderboardEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Register(context.Background(), "alice", "octocat")
	require.NoError(t, err)
	f.credit(t, "alice", 2)

	t.Run("joins registered identity", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/leaderboard?limit=10"))
		testutil.AssertStatusOK(t, rr)

		type row struct {
			Rank             int    `json:"rank"`
			ParticipantKey   string `json:"participant_key"`
			ExternalIdentity string `json:"external_identity"`
		}
		rows := testutil.UnmarshalResponse[[]row](t, rr)
		require.Len(t, *rows, 1)
		assert.Equal(t, 1, (*rows)[0].Rank)
		assert.Equal(t, "octocat", (*rows)[0].ExternalIdentity)
	})

	t.Run("non-numeric limit is rejected", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/leaderboard?limit=abc"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func TestOverrideEndpoints(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Register(context.Background(), "alice", "octocat")
	require.NoError(t, err)
	granted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var overrideID string

	t.Run("grant records the acting admin", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/overrides", map[string]any{
			"participant_key":  "alice",
			"bonus_weight":     1.5,
			"reason":           "hackathon prize",
			"duration_seconds": 3600,
		})
		req = testutil.WithActor(req, "root")
		req = testutil.WithRequestTime(req, granted)

		rr := testutil.DoRequest(f.admin, req)
		testutil.AssertStatus(t, rr, http.StatusCreated)

		type resp struct {
			ID        string    `json:"id"`
			GrantedBy string    `json:"granted_by"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		got := testutil.UnmarshalResponse[resp](t, rr)
		assert.Equal(t, "root", got.GrantedBy)
		assert.Equal(t, granted.Add(time.Hour), got.ExpiresAt)
		overrideID = got.ID
	})

	t.Run("grant for unknown participant is 404", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/overrides", map[string]any{
			"participant_key": "nobody",
			"bonus_weight":    1.0,
			"reason":          "x",
		})
		req = testutil.WithActor(req, "root")
		rr := testutil.DoRequest(f.admin, req)
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	t.Run("list shows the active grant", func(t *testing.T) {
		req := testutil.WithRequestTime(testutil.NewRequest(t, http.MethodGet, "/overrides"), granted.Add(time.Minute))
		rr := testutil.DoRequest(f.admin, req)
		testutil.AssertStatusOK(t, rr)

		type resp struct {
			ID string `json:"id"`
		}
		rows := testutil.UnmarshalResponse[[]resp](t, rr)
		require.Len(t, *rows, 1)
		assert.Equal(t, overrideID, (*rows)[0].ID)
	})

	t.Run("revoke then revoke again conflicts", func(t *testing.T) {
		req := testutil.WithActor(testutil.NewRequest(t, http.MethodDelete, "/overrides/"+overrideID), "root")
		rr := testutil.DoRequest(f.admin, req)
		testutil.AssertStatus(t, rr, http.StatusNoContent)

		req = testutil.WithActor(testutil.NewRequest(t, http.MethodDelete, "/overrides/"+overrideID), "root")
		rr = testutil.DoRequest(f.admin, req)
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, string(dErrors.CodeConflict))
	})
}
