// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// Google OAuth app identity. Shared process-wide; immutable.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// SessionSecret signs and verifies the HS256 bearer tokens the API
	// accepts as proof of principal identity.
	SessionSecret string

	// RefreshTimeout bounds each upstream token exchange.
	RefreshTimeout time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Google OAuth credentials and the session secret are required; the
// service cannot broker calendar access without them. Optional variables with
// defaults: CALBROKER_LISTEN_ADDR (127.0.0.1:8080), CALBROKER_DB_PATH
// (calbroker.db), CALBROKER_REFRESH_TIMEOUT (15s).
func Load() (*Config, error) {
	clientID := os.Getenv("CALBROKER_GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("CALBROKER_GOOGLE_CLIENT_SECRET")
	redirectURL := os.Getenv("CALBROKER_GOOGLE_REDIRECT_URL")
	sessionSecret := os.Getenv("CALBROKER_SESSION_SECRET")

	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"CALBROKER_GOOGLE_CLIENT_ID", clientID},
		{"CALBROKER_GOOGLE_CLIENT_SECRET", clientSecret},
		{"CALBROKER_GOOGLE_REDIRECT_URL", redirectURL},
		{"CALBROKER_SESSION_SECRET", sessionSecret},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("CALBROKER_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "calbroker.db"
	if v, ok := os.LookupEnv("CALBROKER_DB_PATH"); ok {
		dbPath = v
	}

	refreshTimeout := 15 * time.Second
	if v, ok := os.LookupEnv("CALBROKER_REFRESH_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CALBROKER_REFRESH_TIMEOUT has invalid duration %q: %w", v, err)
		}
		refreshTimeout = parsed
	}

	return &Config{
		ListenAddr:         listenAddr,
		DBPath:             dbPath,
		GoogleClientID:     clientID,
		GoogleClientSecret: clientSecret,
		GoogleRedirectURL:  redirectURL,
		SessionSecret:      sessionSecret,
		RefreshTimeout:     refreshTimeout,
	}, nil
}
