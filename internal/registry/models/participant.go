// Package models defines the participant identity binding.
package models

import (
	"time"

	id "merit/pkg/domain"
)

// Participant binds a reward-account key to exactly one external identity.
// The binding is bidirectionally unique and immutable once made: rebinding
// either side to a different counterpart is a conflict, never an overwrite.
type Participant struct {
	Key              id.ParticipantKey
	ExternalIdentity id.Login
	RegisteredEpoch  id.Epoch
	RegisteredAt     time.Time
}

// SamePair reports whether a registration request matches this binding
// exactly, which makes re-registration an idempotent no-op.
func (p Participant) SamePair(key id.ParticipantKey, identity id.Login) bool {
	return p.Key == key && p.ExternalIdentity == identity
}
