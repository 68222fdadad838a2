package driven

import (
	"context"
	"time"

	"github.com/YosefHayim/calbroker/internal/domain/model"
)

// CredentialStore defines the driven port for credential persistence.
// Lookups treat absence as a valid "not connected" state and return nil
// without error; writes must propagate failures, never swallow them.
type CredentialStore interface {
	// FindByEmail returns the credential for the given principal email,
	// matched case-insensitively, or (nil, nil) when none is on file.
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// FindUserID resolves a principal email to the internal user id,
	// or ("", nil) when no such user exists.
	FindUserID(ctx context.Context, email string) (string, error)

	// SaveRefreshed persists the outcome of a successful refresh: the new
	// access token and expiry, is_valid reset to true, the transient-failure
	// counter cleared, and a last-refreshed timestamp recorded. It must
	// return an error if no credential row exists for userID -- a silent
	// no-op here would mask a data-integrity bug.
	SaveRefreshed(ctx context.Context, userID, accessToken string, expiresAt time.Time) error

	// Deactivate marks the credential invalid. Idempotent.
	Deactivate(ctx context.Context, userID string) error

	// RecordRefreshFailure bumps the transient-failure counter for
	// diagnostics. Best effort; callers may ignore the error.
	RecordRefreshFailure(ctx context.Context, userID string) error
}
