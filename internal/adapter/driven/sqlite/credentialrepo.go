package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/YosefHayim/calbroker/internal/domain/model"
	"github.com/YosefHayim/calbroker/internal/domain/port/driven"
)

// ErrCredentialNotFound is returned by writes that target a credential row
// which does not exist. Lookups never return it; absence on read is (nil, nil).
var ErrCredentialNotFound = errors.New("credential not found")

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// It owns the normalization of the legacy expiry_date column: epoch
// milliseconds (the canonical form this service writes) and ISO-8601 strings
// (an older storage shape) both map to time.Time before leaving the adapter.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a CredentialRepo backed by the given database.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `u.id, u.email, c.provider, c.access_token, c.refresh_token,
	c.token_type, c.scope, c.id_token, c.expiry_date, c.is_valid`

// FindByEmail returns the credential for the given principal email, or
// (nil, nil) when the user or their credential is not on file.
func (r *CredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	query := fmt.Sprintf(`SELECT %s
		FROM users u
		JOIN calendar_credentials c ON c.user_id = u.id
		WHERE u.email = ? AND c.provider = ?
		LIMIT 1`, credentialColumns)

	row := r.db.Reader.QueryRowContext(ctx, query, normalizeEmail(email), string(model.ProviderGoogle))

	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find credential by email: %w", err)
	}
	return cred, nil
}

// FindUserID resolves a principal email to the internal user id, or ("", nil)
// when no such user exists.
func (r *CredentialRepo) FindUserID(ctx context.Context, email string) (string, error) {
	const query = `SELECT id FROM users WHERE email = ? LIMIT 1`

	var id string
	err := r.db.Reader.QueryRowContext(ctx, query, normalizeEmail(email)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find user id: %w", err)
	}
	return id, nil
}

// SaveRefreshed persists a successful refresh outcome atomically: new access
// token and expiry, is_valid back to true, failure counter cleared, and
// refresh timestamps recorded. Fails with ErrCredentialNotFound when the
// target row is missing.
func (r *CredentialRepo) SaveRefreshed(ctx context.Context, userID, accessToken string, expiresAt time.Time) error {
	const query = `UPDATE calendar_credentials
		SET access_token = ?, expiry_date = ?, is_valid = 1,
			refresh_error_count = 0, last_refreshed_at = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?`

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.db.Writer.ExecContext(ctx, query,
		accessToken, formatExpiry(expiresAt), now, now, userID, string(model.ProviderGoogle))
	if err != nil {
		return fmt.Errorf("save refreshed credential: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save refreshed credential: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save refreshed credential for user %s: %w", userID, ErrCredentialNotFound)
	}
	return nil
}

// Deactivate marks the credential invalid. Idempotent; deactivating an
// already-invalid or absent credential is not an error.
func (r *CredentialRepo) Deactivate(ctx context.Context, userID string) error {
	const query = `UPDATE calendar_credentials
		SET is_valid = 0, updated_at = ?
		WHERE user_id = ? AND provider = ?`

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.db.Writer.ExecContext(ctx, query, now, userID, string(model.ProviderGoogle)); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	return nil
}

// RecordRefreshFailure bumps the transient-failure counter for diagnostics.
func (r *CredentialRepo) RecordRefreshFailure(ctx context.Context, userID string) error {
	const query = `UPDATE calendar_credentials
		SET refresh_error_count = refresh_error_count + 1, updated_at = ?
		WHERE user_id = ? AND provider = ?`

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.db.Writer.ExecContext(ctx, query, now, userID, string(model.ProviderGoogle)); err != nil {
		return fmt.Errorf("record refresh failure: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanCredential.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var provider string
	var accessToken, refreshToken, tokenType, scope, idToken, expiryDate sql.NullString

	err := s.Scan(&cred.UserID, &cred.Email, &provider, &accessToken, &refreshToken,
		&tokenType, &scope, &idToken, &expiryDate, &cred.IsValid)
	if err != nil {
		return nil, err
	}

	cred.Provider = model.Provider(provider)
	cred.AccessToken = accessToken.String
	cred.RefreshToken = refreshToken.String
	cred.TokenType = tokenType.String
	cred.Scope = scope.String
	cred.IDToken = idToken.String
	cred.ExpiresAt = parseExpiry(expiryDate.String)

	return &cred, nil
}

// normalizeEmail lowercases and trims the principal key. The email column is
// COLLATE NOCASE as well; normalizing in code keeps the behavior portable.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// parseExpiry maps a stored expiry_date to a time.Time. Epoch milliseconds
// and ISO-8601 strings are both accepted; anything else yields the zero time,
// which downstream classification treats as already expired.
func parseExpiry(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}

	for _, format := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(format, raw); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

// formatExpiry writes the canonical epoch-millisecond representation.
func formatExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
