// Package models defines consensus proposals and resolution outcomes.
package models

import (
	"sort"
	"time"

	id "merit/pkg/domain"
)

// SubjectKind discriminates what a proposal is voting on.
type SubjectKind string

const (
	// KindIssueValidity votes on one issue's valid/invalid verdict.
	KindIssueValidity SubjectKind = "issue_validity"
	// KindSyncSnapshot votes on the set of valid issue numbers observed in a
	// repository during one sync pass.
	KindSyncSnapshot SubjectKind = "sync_snapshot"
)

// Verdict is the outcome of an issue validity resolution. Unresolved is a
// legitimate value, not an error.
type Verdict string

const (
	VerdictTrue       Verdict = "true"
	VerdictFalse      Verdict = "false"
	VerdictUnresolved Verdict = "unresolved"
)

// Proposal is one validator's current vote on a subject. Exactly one live
// row exists per (ValidatorID, SubjectKey); resubmission overwrites.
type Proposal struct {
	ValidatorID  id.ValidatorID
	SubjectKey   string
	Kind         SubjectKind
	Verdict      *bool
	IssueNumbers []int64
	Epoch        id.Epoch
	SubmittedAt  time.Time
}

// Canonicalize sorts and dedupes IssueNumbers so equal sets compare equal
// regardless of submission order.
func (p *Proposal) Canonicalize() {
	if len(p.IssueNumbers) == 0 {
		return
	}
	sort.Slice(p.IssueNumbers, func(i, j int) bool { return p.IssueNumbers[i] < p.IssueNumbers[j] })
	deduped := p.IssueNumbers[:1]
	for _, n := range p.IssueNumbers[1:] {
		if n != deduped[len(deduped)-1] {
			deduped = append(deduped, n)
		}
	}
	p.IssueNumbers = deduped
}

// Snapshot is a resolved sync snapshot: the issue-number set a quorum of
// validators agreed on.
type Snapshot struct {
	RepoKey      id.RepoKey
	IssueNumbers []int64
	Validators   []id.ValidatorID
	ResolvedAt   time.Time
}

// Tally summarizes the proposal set behind an issue validity resolution.
type Tally struct {
	Verdict    Verdict
	TrueCount  int
	FalseCount int
	Proposals  int
	Quorum     int
}

// QuorumOf is n/2 + 1 with integer division: 3 of 4, 3 of 5, 4 of 6.
func QuorumOf(n int) int {
	return n/2 + 1
}
