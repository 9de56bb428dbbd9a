package tiersync

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrUnknownTier     = errors.New("unknown_tier")
	ErrKeyReused       = errors.New("idempotency_key_reused")
	ErrVersionConflict = errors.New("version_conflict")
	errTierRaced       = errors.New("tier_raced")
)
