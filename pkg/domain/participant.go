package domain

import (
	"strings"

	dErrors "merit/pkg/domain-errors"
)

// ParticipantKey is the opaque stable identifier of a reward account holder.
// Keys are stored lowercase; binding to an external identity happens in the
// registry and is immutable once made.
type ParticipantKey string

// ParseParticipantKey validates and normalizes a participant key.
func ParseParticipantKey(s string) (ParticipantKey, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if k == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "participant key cannot be empty")
	}
	if len(k) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "participant key must be at most 64 characters")
	}
	if !isKeyCharset(k) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "participant key may only contain letters, digits, '-', '_' and '.'")
	}
	return ParticipantKey(k), nil
}

// String returns the key as a plain string.
func (k ParticipantKey) String() string { return string(k) }

// IsNil reports whether the key is empty.
func (k ParticipantKey) IsNil() bool { return k == "" }

// Login is an external-account identifier (the upstream source's login).
// Comparison is case-insensitive everywhere, so logins are stored lowercase.
type Login string

// ParseLogin validates and normalizes an external login.
func ParseLogin(s string) (Login, error) {
	l := strings.ToLower(strings.TrimSpace(s))
	if l == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "login cannot be empty")
	}
	if len(l) > 100 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "login must be at most 100 characters")
	}
	if strings.ContainsAny(l, " \t/") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "login cannot contain whitespace or slashes")
	}
	return Login(l), nil
}

// String returns the login as a plain string.
func (l Login) String() string { return string(l) }

// IsNil reports whether the login is empty.
func (l Login) IsNil() bool { return l == "" }

// ValidatorID identifies one independent sync observer. Validators coordinate
// only through the shared store, so the ID must be stable across restarts.
type ValidatorID string

// ParseValidatorID validates and normalizes a validator identifier.
func ParseValidatorID(s string) (ValidatorID, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "validator id cannot be empty")
	}
	if len(v) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "validator id must be at most 64 characters")
	}
	if !isKeyCharset(v) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "validator id may only contain letters, digits, '-', '_' and '.'")
	}
	return ValidatorID(v), nil
}

// String returns the ID as a plain string.
func (v ValidatorID) String() string { return string(v) }

// IsNil reports whether the ID is empty.
func (v ValidatorID) IsNil() bool { return v == "" }

func isKeyCharset(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
