// Package models defines the sync collaborator's target registry and
// per-repository bookkeeping.
package models

import (
	"time"

	id "merit/pkg/domain"
)

// TargetKind separates issue sync targets from star sync targets. One repo
// may be registered for both.
type TargetKind string

const (
	KindIssues TargetKind = "issues"
	KindStars  TargetKind = "stars"
)

// TargetRepo is one repository registered for syncing.
type TargetRepo struct {
	Repo    id.RepoKey `json:"repo"`
	Kind    TargetKind `json:"kind"`
	Active  bool       `json:"active"`
	AddedBy string     `json:"added_by"`
	AddedAt time.Time  `json:"added_at"`
}

// SyncState is per-repository bookkeeping. Epoch counts completed sync runs
// and stamps every transition applied during one.
type SyncState struct {
	Repo               id.RepoKey
	Epoch              id.Epoch
	LastSyncAt         *time.Time
	LastIssueUpdatedAt *time.Time
	IssuesSynced       int64
	ETag               string
}

// Star records that a login starred a repository. Insert-if-absent only;
// unstarring does not retract the bonus.
type Star struct {
	Login     id.Login
	Repo      id.RepoKey
	StarredAt time.Time
}

// RunReport summarizes one full sync pass across all active targets.
type RunReport struct {
	Epoch         id.Epoch
	ReposSynced   int
	ReposFailed   int
	ReposSkipped  int
	IssuesApplied int
	StarsCredited int
	Duration      time.Duration
}
