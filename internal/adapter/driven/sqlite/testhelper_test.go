package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via
// cache=shared; a unique name derived from t.Name() isolates parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename
	// component and cannot be misread as query parameters in the DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedUser inserts a user row and returns its id.
func seedUser(t *testing.T, db *DB, id, email string) string {
	t.Helper()

	_, err := db.Writer.ExecContext(context.Background(),
		`INSERT INTO users (id, email) VALUES (?, ?)`, id, email)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

// seedCredential inserts a credential row. expiryDate is stored raw so tests
// can exercise both the epoch-ms and ISO-8601 representations.
func seedCredential(t *testing.T, db *DB, userID, refreshToken, expiryDate string, isValid bool) {
	t.Helper()

	valid := 0
	if isValid {
		valid = 1
	}
	_, err := db.Writer.ExecContext(context.Background(),
		`INSERT INTO calendar_credentials
			(user_id, provider, access_token, refresh_token, token_type, scope, expiry_date, is_valid)
		VALUES (?, 'google', 'ya29.stale', ?, 'Bearer', 'https://www.googleapis.com/auth/calendar', ?, ?)`,
		userID, nullable(refreshToken), nullable(expiryDate), valid)
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func epochMS(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
