package google

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/YosefHayim/calbroker/internal/domain/model"
	"github.com/YosefHayim/calbroker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenRefresher = (*Refresher)(nil)

// Upstream responses matching any of these, case-insensitively, mean the
// refresh token itself is dead and retrying cannot help. The phrase list is a
// starting allowlist observed from Google's token endpoint; extend it
// empirically if the upstream wording drifts.
var (
	reauthCodes = []string{
		"invalid_grant",
		"invalid_request",
		"unauthorized_client",
	}
	reauthPhrases = []string{
		"token has been expired or revoked",
		"token was not found",
	}
)

// Refresher implements the TokenRefresher port against Google's token
// endpoint. It holds only the immutable app-level oauth2.Config; the mutable
// token session is built fresh inside every Refresh call so concurrent
// refreshes for different users never share state.
type Refresher struct {
	cfg     *oauth2.Config
	timeout time.Duration
}

// NewRefresher creates a Refresher. timeout bounds each upstream exchange;
// zero means DefaultRefreshTimeout.
func NewRefresher(cfg *oauth2.Config, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Refresher{cfg: cfg, timeout: timeout}
}

// DefaultRefreshTimeout bounds the upstream token exchange.
const DefaultRefreshTimeout = 15 * time.Second

// Refresh exchanges the credential's refresh token for a new access token and
// expiry. It never touches the credential store; persistence is the caller's
// responsibility. Failures come back as *driven.RefreshError.
func (r *Refresher) Refresh(ctx context.Context, cred *model.Credential) (*model.RefreshedToken, error) {
	if !cred.Refreshable() {
		return nil, &driven.RefreshError{
			Kind:   driven.RefreshReauthRequired,
			Reason: "no refresh token available",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Seed the per-call session with the full known credential. The stale
	// access token rides along for session continuity; scope and id token are
	// carried as extras since the refresh grant doesn't transmit them.
	// Expiry is clamped into the past: oauth2.TokenSource only exchanges a
	// stale token, and the caller has already decided this one needs refreshing.
	seed := (&oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       time.Now().Add(-time.Minute),
	}).WithExtra(map[string]any{
		"scope":    cred.Scope,
		"id_token": cred.IDToken,
	})

	fresh, err := r.cfg.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	// A success without both a token and an expiry is a malformed upstream
	// response; the grant may still be fine, so treat it as transient.
	if fresh.AccessToken == "" || fresh.Expiry.IsZero() {
		return nil, &driven.RefreshError{
			Kind:   driven.RefreshTransient,
			Reason: "upstream returned a malformed success (missing access token or expiry)",
		}
	}

	return &model.RefreshedToken{
		AccessToken: fresh.AccessToken,
		ExpiresAt:   fresh.Expiry.UTC(),
	}, nil
}

// classifyRefreshError maps an upstream failure onto the refresh error
// taxonomy. Structured fields are preferred: the error code first, then the
// error description, then the raw response body and message.
func classifyRefreshError(err error) *driven.RefreshError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := retrieveErr.ErrorCode
		if isReauthError(code, retrieveErr.ErrorDescription, string(retrieveErr.Body)) {
			return &driven.RefreshError{
				Kind:   driven.RefreshReauthRequired,
				Code:   code,
				Reason: "refresh token is invalid, expired, or revoked",
				Err:    err,
			}
		}
		return &driven.RefreshError{
			Kind:   driven.RefreshTransient,
			Code:   code,
			Reason: retrieveErr.ErrorDescription,
			Err:    err,
		}
	}

	// Timeouts and transport errors carry no information about grant
	// validity and must never force re-consent.
	return &driven.RefreshError{
		Kind:   driven.RefreshTransient,
		Reason: err.Error(),
		Err:    err,
	}
}

func isReauthError(code, description, body string) bool {
	for _, c := range reauthCodes {
		if strings.EqualFold(code, c) {
			return true
		}
	}
	haystack := strings.ToLower(description + " " + body)
	for _, c := range reauthCodes {
		if strings.Contains(haystack, c) {
			return true
		}
	}
	for _, phrase := range reauthPhrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}
