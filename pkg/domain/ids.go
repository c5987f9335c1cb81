// Package domain defines typed identifiers and composite keys used across
// merit. Construct values through the Parse functions at trust boundaries;
// direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "merit/pkg/domain-errors"
)

// OverrideID identifies an administrative weight override.
type OverrideID uuid.UUID

// ParseOverrideID validates and returns an OverrideID.
// Rejects empty strings, malformed UUIDs, and the nil UUID.
func ParseOverrideID(s string) (OverrideID, error) {
	if s == "" {
		return OverrideID{}, dErrors.New(dErrors.CodeInvalidInput, "override id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return OverrideID{}, dErrors.New(dErrors.CodeInvalidInput, "override id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return OverrideID{}, dErrors.New(dErrors.CodeInvalidInput, "override id cannot be the nil UUID")
	}
	return OverrideID(parsed), nil
}

// NewOverrideID generates a fresh random OverrideID.
func NewOverrideID() OverrideID {
	return OverrideID(uuid.New())
}

// String returns the canonical UUID string form.
func (id OverrideID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the ID is the zero value.
func (id OverrideID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}
