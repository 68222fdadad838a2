package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/YosefHayim/calbroker/internal/domain/model"
	"github.com/YosefHayim/calbroker/internal/domain/port/driven"
)

// GrantedAccess is what a successful pipeline run hands to the next stage:
// a credential guaranteed fresh for the near-expiry window, plus the verdict
// it was admitted under.
type GrantedAccess struct {
	Credential model.Credential
	Verdict    model.ExpiryVerdict
}

// ConnectionStatus is the non-refreshing view of a principal's credential
// state, served by the connection endpoint.
type ConnectionStatus struct {
	Connected   bool
	Valid       bool
	Refreshable bool
	Verdict     model.ExpiryVerdict
}

// TokenService runs the credential pipeline every calendar-gated request
// passes through: validate the stored credential, refresh it when expired or
// near expiry, and only then let the request proceed. The two stages always
// run in that order; a stale-but-not-yet-flagged token must never reach the
// calendar client.
type TokenService struct {
	store     driven.CredentialStore
	refresher driven.TokenRefresher
	logger    *slog.Logger

	// refreshGroup coalesces concurrent refreshes per principal. Duplicate
	// upstream calls would be harmless (the refresh grant is reusable until
	// revoked, last write wins), so this is duplicate suppression, not a
	// correctness requirement.
	refreshGroup singleflight.Group
}

// NewTokenService creates a TokenService with the required ports.
func NewTokenService(store driven.CredentialStore, refresher driven.TokenRefresher, logger *slog.Logger) *TokenService {
	return &TokenService{
		store:     store,
		refresher: refresher,
		logger:    logger,
	}
}

// EnsureFresh runs the full pipeline for the given principal and returns a
// credential safe to attach to a calendar client. Failures are *AccessError.
func (s *TokenService) EnsureFresh(ctx context.Context, principal string) (*GrantedAccess, error) {
	return s.ensure(ctx, principal, false)
}

// EnsureFreshForced behaves like EnsureFresh but refreshes even when the
// stored token is not near expiry.
func (s *TokenService) EnsureFreshForced(ctx context.Context, principal string) (*GrantedAccess, error) {
	return s.ensure(ctx, principal, true)
}

func (s *TokenService) ensure(ctx context.Context, principal string, force bool) (*GrantedAccess, error) {
	principal = normalizePrincipal(principal)

	cred, verdict, accessErr := s.validate(ctx, principal)
	if accessErr != nil {
		return nil, accessErr
	}

	if !force && verdict.Fresh() {
		return &GrantedAccess{Credential: *cred, Verdict: verdict}, nil
	}

	return s.refresh(ctx, principal, cred)
}

// validate is the pipeline's entry stage: load the credential for the
// principal and fail fast on absent, revoked, or unrefreshable grants.
// Read-only; a single lookup failure is surfaced immediately.
func (s *TokenService) validate(ctx context.Context, principal string) (*model.Credential, model.ExpiryVerdict, *AccessError) {
	if principal == "" {
		return nil, model.ExpiryVerdict{}, accessErr(AccessUnauthenticated, "authentication required")
	}

	cred, err := s.store.FindByEmail(ctx, principal)
	if err != nil {
		s.logger.Error("credential lookup failed", "principal", principal, "error", err)
		return nil, model.ExpiryVerdict{}, &AccessError{
			Kind:    AccessInternal,
			Message: "could not load calendar credentials",
			Err:     err,
		}
	}

	switch {
	case cred == nil:
		return nil, model.ExpiryVerdict{}, accessErr(AccessNotConnected,
			"no calendar connected; please authorize access")
	case !cred.IsValid:
		return nil, model.ExpiryVerdict{}, accessErr(AccessRevoked,
			"calendar access was revoked; please reconnect your calendar")
	case !cred.Refreshable():
		return nil, model.ExpiryVerdict{}, accessErr(AccessIncompleteGrant,
			"calendar connection is incomplete; please reconnect with full permissions")
	}

	return cred, model.ClassifyExpiry(cred.ExpiresAt), nil
}

// refresh is the pipeline's second stage: exchange the refresh token, persist
// the outcome, and fail the request with the matching kind when the exchange
// does not produce a usable token. This is the only path that flips is_valid.
func (s *TokenService) refresh(ctx context.Context, principal string, cred *model.Credential) (*GrantedAccess, error) {
	result, err, shared := s.refreshGroup.Do(principal, func() (any, error) {
		tok, refreshErr := s.refresher.Refresh(ctx, cred)
		if refreshErr != nil {
			return nil, refreshErr
		}
		// The exchange already consumed upstream quota; an aborted request
		// must not cancel the write that persists its result.
		persistCtx := context.WithoutCancel(ctx)
		if persistErr := s.store.SaveRefreshed(persistCtx, cred.UserID, tok.AccessToken, tok.ExpiresAt); persistErr != nil {
			return nil, persistErr
		}
		return tok, nil
	})
	if err != nil {
		return nil, s.refreshFailure(ctx, principal, cred, err)
	}

	tok := result.(*model.RefreshedToken)
	if shared {
		s.logger.Debug("refresh coalesced with concurrent request", "principal", principal)
	}

	fresh := *cred
	fresh.AccessToken = tok.AccessToken
	fresh.ExpiresAt = tok.ExpiresAt
	fresh.IsValid = true

	verdict := model.ClassifyExpiry(fresh.ExpiresAt)
	s.logger.Info("access token refreshed", "principal", principal, "expires_at", tok.ExpiresAt)

	return &GrantedAccess{Credential: fresh, Verdict: verdict}, nil
}

func (s *TokenService) refreshFailure(ctx context.Context, principal string, cred *model.Credential, err error) error {
	var refreshErr *driven.RefreshError
	if !errors.As(err, &refreshErr) {
		// Persistence failed after a successful exchange.
		s.logger.Error("persisting refreshed token failed", "principal", principal, "error", err)
		return &AccessError{
			Kind:    AccessInternal,
			Message: "could not save refreshed calendar credentials",
			Err:     err,
		}
	}

	switch refreshErr.Kind {
	case driven.RefreshReauthRequired:
		// Terminal: the refresh token is dead. Deactivate so no later
		// request attempts this credential again.
		if deactivateErr := s.store.Deactivate(ctx, cred.UserID); deactivateErr != nil {
			s.logger.Error("deactivating dead credential failed",
				"principal", principal, "error", deactivateErr)
		}
		s.logger.Warn("refresh token rejected upstream",
			"principal", principal, "code", refreshErr.Code)
		return &AccessError{
			Kind:    AccessReauthRequired,
			Message: "calendar session expired; please reconnect your calendar",
			Err:     refreshErr,
		}
	default:
		// Grant status unknown: leave the credential untouched so the next
		// attempt can try again, but count the failure for diagnostics.
		if recordErr := s.store.RecordRefreshFailure(ctx, cred.UserID); recordErr != nil {
			s.logger.Warn("recording refresh failure failed",
				"principal", principal, "error", recordErr)
		}
		s.logger.Warn("transient refresh failure",
			"principal", principal, "error", refreshErr)
		return &AccessError{
			Kind:    AccessTemporarilyUnavailable,
			Message: "calendar provider is temporarily unavailable; please try again",
			Err:     refreshErr,
		}
	}
}

// Status reports the principal's connection state without triggering a
// refresh or any other write.
func (s *TokenService) Status(ctx context.Context, principal string) (*ConnectionStatus, error) {
	principal = normalizePrincipal(principal)
	if principal == "" {
		return nil, accessErr(AccessUnauthenticated, "authentication required")
	}

	cred, err := s.store.FindByEmail(ctx, principal)
	if err != nil {
		s.logger.Error("credential lookup failed", "principal", principal, "error", err)
		return nil, &AccessError{
			Kind:    AccessInternal,
			Message: "could not load calendar credentials",
			Err:     err,
		}
	}
	if cred == nil {
		return &ConnectionStatus{}, nil
	}

	return &ConnectionStatus{
		Connected:   true,
		Valid:       cred.IsValid,
		Refreshable: cred.Refreshable(),
		Verdict:     model.ClassifyExpiry(cred.ExpiresAt),
	}, nil
}

// Disconnect deactivates the principal's credential. The record is kept;
// deletion is an account-lifecycle concern handled elsewhere.
func (s *TokenService) Disconnect(ctx context.Context, principal string) error {
	principal = normalizePrincipal(principal)
	if principal == "" {
		return accessErr(AccessUnauthenticated, "authentication required")
	}

	userID, err := s.store.FindUserID(ctx, principal)
	if err != nil {
		return &AccessError{
			Kind:    AccessInternal,
			Message: "could not look up account",
			Err:     err,
		}
	}
	if userID == "" {
		return accessErr(AccessNotConnected, "no calendar connected")
	}

	if err := s.store.Deactivate(ctx, userID); err != nil {
		return &AccessError{
			Kind:    AccessInternal,
			Message: "could not disconnect calendar",
			Err:     err,
		}
	}

	s.logger.Info("calendar disconnected", "principal", principal)
	return nil
}

// normalizePrincipal folds the inbound principal key the same way the store
// does, so the pipeline and the persistence layer agree on identity.
func normalizePrincipal(principal string) string {
	return strings.ToLower(strings.TrimSpace(principal))
}
