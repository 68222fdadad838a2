package model

import "time"

// NearExpiryBuffer is the proactive-refresh window. A token expiring within
// this window is refreshed before use so that a slow downstream call cannot
// outlive it mid-flight.
const NearExpiryBuffer = 5 * time.Minute

// ExpiryVerdict classifies a stored expiry instant relative to now.
// IsExpired and a non-nil Remaining are mutually exclusive; IsNearExpiry can
// only be true while IsExpired is false... except for the unknown-expiry case,
// where both flags are set and Remaining is nil (fail closed, never "valid forever").
type ExpiryVerdict struct {
	IsExpired    bool
	IsNearExpiry bool
	Remaining    *time.Duration
}

// Fresh reports whether the token needs no refresh before use.
func (v ExpiryVerdict) Fresh() bool {
	return !v.IsExpired && !v.IsNearExpiry
}

// ClassifyExpiry classifies expiresAt against the current clock.
func ClassifyExpiry(expiresAt time.Time) ExpiryVerdict {
	return ClassifyExpiryAt(expiresAt, time.Now())
}

// ClassifyExpiryAt is the pure form of ClassifyExpiry with an injected clock.
// A zero expiresAt means the stored expiry was absent or unparseable and is
// treated as already expired.
func ClassifyExpiryAt(expiresAt, now time.Time) ExpiryVerdict {
	if expiresAt.IsZero() {
		return ExpiryVerdict{IsExpired: true, IsNearExpiry: true}
	}

	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return ExpiryVerdict{IsExpired: true, IsNearExpiry: true}
	}

	return ExpiryVerdict{
		IsNearExpiry: remaining <= NearExpiryBuffer,
		Remaining:    &remaining,
	}
}
