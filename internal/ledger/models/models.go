// Package models defines the issue ledger records and the transition
// classification applied to every sync observation.
package models

import (
	"fmt"
	"time"

	id "merit/pkg/domain"
	pstrings "merit/pkg/platform/strings"
)

// State is the lifecycle state of an issue record.
type State string

const (
	StateUnclaimed State = "unclaimed"
	StateValid     State = "valid"
	StateInvalid   State = "invalid"
)

// LabelChange classifies how an issue's labels differ between two consecutive
// sync observations. It is computed exactly once per observation and the
// typed result flows downstream.
type LabelChange string

const (
	ChangeNone          LabelChange = "none"
	ChangeBecameValid   LabelChange = "became_valid"
	ChangeBecameInvalid LabelChange = "became_invalid"
	ChangeLostValid     LabelChange = "lost_valid"
)

// TransitionKind keys the idempotency markers. Credits and penalties are
// applied at most once per issue lifetime via insert-if-absent on
// (issue key, kind).
type TransitionKind string

const (
	TransitionCredit  TransitionKind = "credit"
	TransitionPenalty TransitionKind = "penalty"
)

// IssueRecord is the stored view of one external issue. Records are never
// hard-deleted; DeletedAt marks upstream removal and reappearance clears it.
type IssueRecord struct {
	Key           id.IssueKey
	Author        id.Login
	IsClosed      bool
	Labels        []string
	State         State
	CreditedTo    *id.ParticipantKey
	DeletedAt     *time.Time
	RecordedEpoch id.Epoch
	UpdatedAt     time.Time
}

// HasLabel reports whether the record carries the given (lowercase) label.
func (r IssueRecord) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsCredited reports whether a credit is currently attached.
func (r IssueRecord) IsCredited() bool {
	return r.CreditedTo != nil && !r.CreditedTo.IsNil()
}

// Observation is one normalized sync snapshot of an issue.
type Observation struct {
	Key      id.IssueKey
	Author   id.Login
	Labels   []string
	IsClosed bool
	Epoch    id.Epoch
}

// Normalize lowercases, trims and dedupes the observed labels.
func (o *Observation) Normalize() {
	o.Labels = pstrings.NormalizeLabels(o.Labels)
}

// Snapshot compares a stored record (nil for first observation) against an
// observation. It carries the booleans every transition decision needs so
// they are derived in exactly one place.
type Snapshot struct {
	PrevHasValid   bool
	PrevHasInvalid bool
	HasValid       bool
	HasInvalid     bool
	Credited       bool
	Penalized      bool
}

// NewSnapshot derives the comparison snapshot. penalized is the stored
// penalty-marker state, looked up by the caller.
func NewSnapshot(prev *IssueRecord, obs Observation, validLabel, invalidLabel string, penalized bool) Snapshot {
	snap := Snapshot{Penalized: penalized}
	if prev != nil {
		snap.PrevHasValid = prev.HasLabel(validLabel)
		snap.PrevHasInvalid = prev.HasLabel(invalidLabel)
		snap.Credited = prev.IsCredited()
	}
	for _, l := range obs.Labels {
		if l == validLabel {
			snap.HasValid = true
		}
		if l == invalidLabel {
			snap.HasInvalid = true
		}
	}
	return snap
}

// Changes returns the label changes this observation triggers, in application
// order. A valid→invalid flip yields LostValid followed by BecameInvalid in
// the same pass.
func (s Snapshot) Changes() []LabelChange {
	var changes []LabelChange

	// The reversal only has an effect when a credit is attached, but the
	// classification itself does not depend on that.
	if s.PrevHasValid && !s.HasValid {
		changes = append(changes, ChangeLostValid)
	}

	switch {
	case s.HasInvalid && !s.PrevHasInvalid && !s.Penalized:
		changes = append(changes, ChangeBecameInvalid)
	case s.HasValid && !s.Credited && !s.HasInvalid:
		// Covers both newly-valid and "already valid but never credited",
		// e.g. first sync observing a pre-existing valid issue.
		changes = append(changes, ChangeBecameValid)
	}

	if len(changes) == 0 {
		return []LabelChange{ChangeNone}
	}
	return changes
}

// State derives the stored state from the observed labels. An invalid label
// wins over a valid one.
func (s Snapshot) State() State {
	switch {
	case s.HasInvalid:
		return StateInvalid
	case s.HasValid:
		return StateValid
	default:
		return StateUnclaimed
	}
}

// TransitionResult reports what one observation did.
type TransitionResult struct {
	Key     id.IssueKey
	Changes []LabelChange
	// CreditedTo is set when this observation attached a credit.
	CreditedTo *id.ParticipantKey
	// Reason explains an idempotent no-op for audit, e.g. "Issue already
	// claimed". Empty when an effect was applied.
	Reason string
}

// Applied reports whether any change other than None happened.
func (r TransitionResult) Applied() bool {
	for _, c := range r.Changes {
		if c != ChangeNone {
			return true
		}
	}
	return false
}

// Rejection reasons shared by the claim flow and transition no-ops. These
// strings are part of the API surface; claim responses carry them verbatim.
const (
	ReasonNotClosed       = "Issue is not closed"
	ReasonMissingValid    = "Issue missing 'valid' label"
	ReasonHasInvalid      = "Issue has 'invalid' label"
	ReasonAlreadyClaimed  = "Issue already claimed"
	ReasonNotFound        = "Issue not found"
	ReasonDeletedUpstream = "Issue deleted upstream"
)

// ReasonAuthorMismatch formats the author-mismatch rejection.
func ReasonAuthorMismatch(expected, got id.Login) string {
	return fmt.Sprintf("Author mismatch: expected %s, got %s", expected, got)
}

// ClaimResult is the per-participant outcome of a claim request.
type ClaimResult struct {
	Claimed    []id.IssueKey
	Rejected   map[string]string
	TotalValid int64
}

// Stats is a read-only aggregate over the ledger.
type Stats struct {
	TotalIssues int64
	ByState     map[State]int64
	Credited    int64
	Penalized   int64
	Deleted     int64
}
