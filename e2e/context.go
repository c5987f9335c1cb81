// Package e2e drives a running merit instance over HTTP with godog. The
// suite assumes the server (and the github-api stub it syncs from) is
// already up; see the Makefile's e2e target.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// TestContext carries HTTP state across the steps of one scenario.
type TestContext struct {
	baseURL    string
	adminToken string
	client     *http.Client

	bearer     string
	lastStatus int
	lastBody   []byte
	saved      map[string]string
}

// NewTestContext configures a context from the environment.
func NewTestContext() *TestContext {
	baseURL := os.Getenv("MERIT_E2E_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &TestContext{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: os.Getenv("MERIT_E2E_ADMIN_TOKEN"),
		client:     &http.Client{Timeout: 10 * time.Second},
		saved:      make(map[string]string),
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.bearer = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.saved = make(map[string]string)
}

// SetBearer attaches a validator token to subsequent requests.
func (tc *TestContext) SetBearer(token string) { tc.bearer = token }

// Save stores a named value for later steps.
func (tc *TestContext) Save(name, value string) { tc.saved[name] = value }

// Saved returns a previously stored value.
func (tc *TestContext) Saved(name string) string { return tc.saved[name] }

// AdminToken returns the configured admin token.
func (tc *TestContext) AdminToken() string { return tc.adminToken }

func (tc *TestContext) do(method, path string, body any, admin bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Token", tc.adminToken)
	}
	if tc.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+tc.bearer)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// POST sends a JSON request to a public path.
func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, false)
}

// GET fetches a public path.
func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil, false)
}

// AdminPOST sends a JSON request with the admin token.
func (tc *TestContext) AdminPOST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, true)
}

// AdminDELETE sends a delete with the admin token.
func (tc *TestContext) AdminDELETE(path string) error {
	return tc.do(http.MethodDelete, path, nil, true)
}

// LastStatus returns the status code of the most recent response.
func (tc *TestContext) LastStatus() int { return tc.lastStatus }

// ResponseField digs a dotted path out of the last JSON response body.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var payload any
	if err := json.Unmarshal(tc.lastBody, &payload); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w (body: %s)", err, tc.lastBody)
	}
	current := payload
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not present in response (body: %s)", field, tc.lastBody)
		}
	}
	return current, nil
}

// ResponseList returns the last response body parsed as a JSON array.
func (tc *TestContext) ResponseList() ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(tc.lastBody, &rows); err != nil {
		return nil, fmt.Errorf("response is not a JSON array: %w (body: %s)", err, tc.lastBody)
	}
	return rows, nil
}
