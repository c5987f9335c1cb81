package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: entity already bound to a different counterpart
// - ErrAlreadyApplied: idempotent transition marker already present; effect not re-applied
// - ErrExpired: bonus/token past its expiry
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: store or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyApplied = errors.New("already applied")
	ErrExpired        = errors.New("expired")
	ErrInvalidState   = errors.New("invalid state")
	ErrUnavailable    = errors.New("unavailable")
)
