// Package models defines the registered validator record.
package models

import (
	"time"

	id "merit/pkg/domain"
)

// Validator is one independent observer allowed to submit consensus
// proposals. Registration is an admin action; the stored hash never leaves
// the service layer.
type Validator struct {
	ID         id.ValidatorID `json:"id"`
	SecretHash string         `json:"-"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
}
