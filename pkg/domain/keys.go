package domain

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "merit/pkg/domain-errors"
)

// RepoKey identifies a repository on the external source as owner/name.
// Both parts are stored lowercase so lookups are case-insensitive, matching
// how the external source treats repository slugs.
type RepoKey struct {
	Owner string
	Name  string
}

// ParseRepoKey parses "owner/name" into a RepoKey.
func ParseRepoKey(s string) (RepoKey, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok {
		return RepoKey{}, dErrors.New(dErrors.CodeInvalidInput, "repo key must be owner/name")
	}
	return NewRepoKey(owner, name)
}

// NewRepoKey validates and normalizes the two halves of a repository key.
func NewRepoKey(owner, name string) (RepoKey, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	name = strings.ToLower(strings.TrimSpace(name))
	if owner == "" || name == "" {
		return RepoKey{}, dErrors.New(dErrors.CodeInvalidInput, "repo owner and name cannot be empty")
	}
	if strings.ContainsAny(owner, "/ \t") || strings.ContainsAny(name, "/ \t") {
		return RepoKey{}, dErrors.New(dErrors.CodeInvalidInput, "repo owner and name cannot contain slashes or whitespace")
	}
	if len(owner) > 100 || len(name) > 100 {
		return RepoKey{}, dErrors.New(dErrors.CodeInvalidInput, "repo owner and name must be at most 100 characters")
	}
	return RepoKey{Owner: owner, Name: name}, nil
}

// String returns "owner/name".
func (k RepoKey) String() string {
	return k.Owner + "/" + k.Name
}

// IsZero reports whether the key is unset.
func (k RepoKey) IsZero() bool {
	return k.Owner == "" && k.Name == ""
}

// IssueKey is the composite key every ledger record and validity proposal
// hangs on: a repository plus an issue number.
type IssueKey struct {
	Repo   RepoKey
	Number int64
}

// ParseIssueKey parses "owner/name#number" into an IssueKey.
func ParseIssueKey(s string) (IssueKey, error) {
	repoPart, numPart, ok := strings.Cut(s, "#")
	if !ok {
		return IssueKey{}, dErrors.New(dErrors.CodeInvalidInput, "issue key must be owner/name#number")
	}
	repo, err := ParseRepoKey(repoPart)
	if err != nil {
		return IssueKey{}, err
	}
	number, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return IssueKey{}, dErrors.New(dErrors.CodeInvalidInput, "issue number must be an integer")
	}
	return NewIssueKey(repo, number)
}

// NewIssueKey validates an issue number against a repository key.
func NewIssueKey(repo RepoKey, number int64) (IssueKey, error) {
	if repo.IsZero() {
		return IssueKey{}, dErrors.New(dErrors.CodeInvalidInput, "issue key requires a repo")
	}
	if number <= 0 {
		return IssueKey{}, dErrors.New(dErrors.CodeInvalidInput, "issue number must be positive")
	}
	return IssueKey{Repo: repo, Number: number}, nil
}

// String returns "owner/name#number".
func (k IssueKey) String() string {
	return fmt.Sprintf("%s#%d", k.Repo, k.Number)
}

// IsZero reports whether the key is unset.
func (k IssueKey) IsZero() bool {
	return k.Repo.IsZero() && k.Number == 0
}
