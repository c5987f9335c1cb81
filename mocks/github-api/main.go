// github-api is a stand-in for the GitHub REST API used by local development
// and the e2e suite. It serves a mutable in-memory fixture set over the two
// endpoints the sync collaborator calls, with working ETag semantics.
//
// Fixtures are seeded from fixtures.json next to the binary when present,
// and can be mutated at runtime through the /_fixtures endpoint so scenarios
// can script label flips and issue deletions.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type issue struct {
	Number int64  `json:"number"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	UpdatedAt time.Time `json:"updated_at"`
}

type stargazer struct {
	StarredAt time.Time `json:"starred_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

type repoFixture struct {
	Issues     []issue     `json:"issues"`
	Stargazers []stargazer `json:"stargazers"`
}

type server struct {
	mu    sync.RWMutex
	repos map[string]*repoFixture // keyed by "owner/name"
}

func main() {
	srv := &server{repos: make(map[string]*repoFixture)}
	srv.loadFixtures("fixtures.json")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", srv.handleIssues)
	mux.HandleFunc("GET /repos/{owner}/{repo}/stargazers", srv.handleStargazers)
	mux.HandleFunc("PUT /_fixtures/{owner}/{repo}", srv.handlePutFixture)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := os.Getenv("GITHUB_API_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	log.Printf("github-api stub listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *server) loadFixtures(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("skipping fixtures: %v", err)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(data, &s.repos); err != nil {
		log.Printf("invalid fixtures file: %v", err)
	}
}

func (s *server) fixture(r *http.Request) (*repoFixture, string) {
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repos[key], key
}

func (s *server) handleIssues(w http.ResponseWriter, r *http.Request) {
	fix, _ := s.fixture(r)
	if fix == nil {
		http.NotFound(w, r)
		return
	}

	s.mu.RLock()
	issues := fix.Issues
	s.mu.RUnlock()

	// Weak ETag over the serialized issue set, like the real API: any
	// change to the set invalidates the stored tag.
	payload, err := json.Marshal(issues)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(payload)
	etag := `W/"` + hex.EncodeToString(sum[:8]) + `"`

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	// A single page is enough for fixtures; the client stops below per_page.
	if r.URL.Query().Get("page") != "" && r.URL.Query().Get("page") != "1" {
		payload = []byte("[]")
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.Write(payload)
}

func (s *server) handleStargazers(w http.ResponseWriter, r *http.Request) {
	fix, _ := s.fixture(r)
	if fix == nil {
		http.NotFound(w, r)
		return
	}
	if !strings.Contains(r.Header.Get("Accept"), "star+json") {
		http.Error(w, "stargazer timestamps require the star media type", http.StatusUnsupportedMediaType)
		return
	}

	s.mu.RLock()
	stars := fix.Stargazers
	s.mu.RUnlock()

	if r.URL.Query().Get("page") != "" && r.URL.Query().Get("page") != "1" {
		stars = nil
	}

	w.Header().Set("Content-Type", "application/json")
	if stars == nil {
		stars = []stargazer{}
	}
	json.NewEncoder(w).Encode(stars)
}

func (s *server) handlePutFixture(w http.ResponseWriter, r *http.Request) {
	var fix repoFixture
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := r.PathValue("owner") + "/" + r.PathValue("repo")

	s.mu.Lock()
	s.repos[key] = &fix
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}
