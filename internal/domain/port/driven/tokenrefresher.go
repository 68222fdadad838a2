package driven

import (
	"context"
	"fmt"

	"github.com/YosefHayim/calbroker/internal/domain/model"
)

// RefreshFailureKind classifies an unsuccessful refresh attempt.
type RefreshFailureKind string

const (
	// RefreshReauthRequired means the refresh token itself is dead: the
	// provider rejected the grant, or no refresh token exists at all.
	// Retrying cannot help; the user must re-consent.
	RefreshReauthRequired RefreshFailureKind = "reauth_required"

	// RefreshTransient covers network errors, timeouts, rate limiting, and
	// unrecognized upstream errors. The grant's validity is unknown, so the
	// stored credential must be left untouched.
	RefreshTransient RefreshFailureKind = "transient"
)

// RefreshError is the typed failure returned by TokenRefresher.Refresh.
type RefreshError struct {
	Kind RefreshFailureKind
	// Code is the structured upstream error code when one was returned
	// (e.g. "invalid_grant"), empty otherwise.
	Code string
	// Reason is the human-readable description of the failure.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *RefreshError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token refresh failed (%s): %s: %s", e.Kind, e.Code, e.Reason)
	}
	return fmt.Sprintf("token refresh failed (%s): %s", e.Kind, e.Reason)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// TokenRefresher defines the driven port for the upstream token exchange.
// Implementations construct an independent session per call so concurrent
// refreshes for different users never share mutable state, and never touch
// the credential store -- persistence is the caller's responsibility.
type TokenRefresher interface {
	// Refresh exchanges the credential's refresh token for a new access
	// token and expiry. On failure it returns a *RefreshError.
	Refresh(ctx context.Context, cred *model.Credential) (*model.RefreshedToken, error)
}
