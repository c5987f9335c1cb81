// Package github is the external data sync collaborator: a thin REST client
// that yields normalized issue and stargazer records. Core packages never see
// pagination, rate limits, or auth headers.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"merit/internal/platform/config"
	id "merit/pkg/domain"
)

// Issue is the normalized record the ledger consumes.
type Issue struct {
	Repo      id.RepoKey
	Number    int64
	Author    string
	Labels    []string
	IsClosed  bool
	UpdatedAt time.Time
}

// Star is one stargazer observation with its timestamp.
type Star struct {
	Login     string
	StarredAt time.Time
}

// NotModifiedError reports that a conditional request matched the stored
// ETag, so the previous snapshot is still current.
type NotModifiedError struct{ ETag string }

func (e *NotModifiedError) Error() string { return "github: not modified" }

// Client fetches from the GitHub REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client from configuration.
func New(cfg config.GitHubConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

const perPage = 100

// maxPages bounds a single sync pass so one huge repo cannot stall the
// whole cycle; the next pass picks up where labels changed.
const maxPages = 50

type issuePayload struct {
	Number int64  `json:"number"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	UpdatedAt   time.Time        `json:"updated_at"`
	PullRequest *json.RawMessage `json:"pull_request,omitempty"`
}

// ListIssues returns all issues of the repository (open and closed), newest
// first. Pull requests are filtered out. When etag is non-empty and upstream
// reports 304, a *NotModifiedError is returned.
func (c *Client) ListIssues(ctx context.Context, repo id.RepoKey, etag string) ([]Issue, string, error) {
	var (
		issues  []Issue
		newETag string
	)
	for page := 1; page <= maxPages; page++ {
		u := fmt.Sprintf("%s/repos/%s/%s/issues?state=all&per_page=%d&page=%d&sort=updated&direction=desc",
			c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), perPage, page)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, "", fmt.Errorf("build issues request: %w", err)
		}
		c.decorate(req)
		if page == 1 && etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch issues %s page %d: %w", repo, page, err)
		}
		if page == 1 {
			if resp.StatusCode == http.StatusNotModified {
				resp.Body.Close()
				return nil, etag, &NotModifiedError{ETag: etag}
			}
			newETag = resp.Header.Get("ETag")
		}

		var payload []issuePayload
		if err := decode(resp, &payload); err != nil {
			return nil, "", fmt.Errorf("decode issues %s page %d: %w", repo, page, err)
		}

		for _, p := range payload {
			if p.PullRequest != nil {
				continue
			}
			labels := make([]string, 0, len(p.Labels))
			for _, l := range p.Labels {
				labels = append(labels, strings.ToLower(l.Name))
			}
			issues = append(issues, Issue{
				Repo:      repo,
				Number:    p.Number,
				Author:    strings.ToLower(p.User.Login),
				Labels:    labels,
				IsClosed:  p.State == "closed",
				UpdatedAt: p.UpdatedAt,
			})
		}
		if len(payload) < perPage {
			break
		}
	}
	return issues, newETag, nil
}

type stargazerPayload struct {
	StarredAt time.Time `json:"starred_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// ListStargazers returns all stargazers of the repository with timestamps.
func (c *Client) ListStargazers(ctx context.Context, repo id.RepoKey) ([]Star, error) {
	var stars []Star
	for page := 1; page <= maxPages; page++ {
		u := fmt.Sprintf("%s/repos/%s/%s/stargazers?per_page=%d&page=%d",
			c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), perPage, page)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build stargazers request: %w", err)
		}
		c.decorate(req)
		// The star media type includes starred_at timestamps.
		req.Header.Set("Accept", "application/vnd.github.star+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch stargazers %s page %d: %w", repo, page, err)
		}

		var payload []stargazerPayload
		if err := decode(resp, &payload); err != nil {
			return nil, fmt.Errorf("decode stargazers %s page %d: %w", repo, page, err)
		}
		for _, p := range payload {
			stars = append(stars, Star{
				Login:     strings.ToLower(p.User.Login),
				StarredAt: p.StarredAt,
			})
		}
		if len(payload) < perPage {
			break
		}
	}
	return stars, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
