package httphandler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/YosefHayim/calbroker/internal/adapter/driving/http"
	"github.com/YosefHayim/calbroker/internal/application"
	"github.com/YosefHayim/calbroker/internal/domain/model"
	"github.com/YosefHayim/calbroker/internal/domain/port/driven"
)

var sessionSecret = []byte("test-session-secret")

// --- Mock implementations ---

type mockStore struct {
	cred        *model.Credential
	userID      string
	saved       int
	deactivated int
}

func (m *mockStore) FindByEmail(_ context.Context, _ string) (*model.Credential, error) {
	if m.cred == nil {
		return nil, nil
	}
	cred := *m.cred
	return &cred, nil
}

func (m *mockStore) FindUserID(_ context.Context, _ string) (string, error) {
	return m.userID, nil
}

func (m *mockStore) SaveRefreshed(_ context.Context, _, _ string, _ time.Time) error {
	m.saved++
	return nil
}

func (m *mockStore) Deactivate(_ context.Context, _ string) error {
	m.deactivated++
	return nil
}

func (m *mockStore) RecordRefreshFailure(_ context.Context, _ string) error { return nil }

type mockRefresher struct {
	tok   *model.RefreshedToken
	err   error
	calls atomic.Int64
}

func (m *mockRefresher) Refresh(_ context.Context, _ *model.Credential) (*model.RefreshedToken, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.tok, nil
}

type mockCalendarClient struct {
	calendars []model.CalendarInfo
	events    []model.EventInfo
	err       error
}

func (m *mockCalendarClient) ListCalendars(_ context.Context) ([]model.CalendarInfo, error) {
	return m.calendars, m.err
}

func (m *mockCalendarClient) GetCalendar(_ context.Context, id string) (*model.CalendarInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.CalendarInfo{ID: id, Summary: "Work"}, nil
}

func (m *mockCalendarClient) ListEvents(_ context.Context, _ string, _, _ time.Time) ([]model.EventInfo, error) {
	return m.events, m.err
}

// --- Test fixture ---

type fixture struct {
	store     *mockStore
	refresher *mockRefresher
	client    *mockCalendarClient
	handler   http.Handler
}

func newFixture(t *testing.T, store *mockStore, refresher *mockRefresher) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := application.NewTokenService(store, refresher, logger)

	client := &mockCalendarClient{}
	factory := func(_ context.Context, _ *model.Credential) (driven.CalendarClient, error) {
		return client, nil
	}
	authURL := func(state string, force bool) string {
		url := "https://accounts.google.com/o/oauth2/auth?state=" + state
		if force {
			url += "&prompt=consent"
		}
		return url
	}

	h := httphandler.NewHandler(tokens, authURL, factory, logger)
	return &fixture{
		store:     store,
		refresher: refresher,
		client:    client,
		handler:   httphandler.NewServeMux(h, sessionSecret, logger),
	}
}

func sessionToken(t *testing.T, email string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(sessionSecret)
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, handler http.Handler, method, target, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func validCredential(expiresAt time.Time) *model.Credential {
	return &model.Credential{
		UserID:       "u1",
		Email:        "alice@example.com",
		Provider:     model.ProviderGoogle,
		AccessToken:  "ya29.current",
		RefreshToken: "1//refresh",
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		IsValid:      true,
	}
}

// --- Tests ---

func TestAPI_RequiresBearerToken(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
	assert.Zero(t, f.refresher.calls.Load(), "pipeline must not run for unauthenticated requests")
}

func TestAPI_RejectsGarbageToken(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", "not-a-jwt")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListCalendars_FreshCredentialPassesThrough(t *testing.T) {
	store := &mockStore{cred: validCredential(time.Now().Add(2 * time.Hour))}
	f := newFixture(t, store, &mockRefresher{})
	f.client.calendars = []model.CalendarInfo{{ID: "primary", Summary: "Personal", Primary: true}}

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.refresher.calls.Load(), "valid token must not be refreshed")
	assert.Zero(t, store.saved)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "primary", body[0]["id"])
}

func TestListCalendars_NearExpiryTriggersRefresh(t *testing.T) {
	store := &mockStore{cred: validCredential(time.Now().Add(2 * time.Minute))}
	refresher := &mockRefresher{tok: &model.RefreshedToken{
		AccessToken: "ya29.fresh",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	f := newFixture(t, store, refresher)

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), refresher.calls.Load())
	assert.Equal(t, 1, store.saved)
}

func TestListCalendars_NotConnected(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_CONNECTED", errorCode(t, rec))
}

func TestListCalendars_RevokedGrant(t *testing.T) {
	cred := validCredential(time.Now().Add(2 * time.Hour))
	cred.IsValid = false
	f := newFixture(t, &mockStore{cred: cred}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ACCESS_REVOKED", errorCode(t, rec))
}

func TestListCalendars_MissingRefreshToken(t *testing.T) {
	cred := validCredential(time.Now().Add(2 * time.Hour))
	cred.RefreshToken = ""
	f := newFixture(t, &mockStore{cred: cred}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INCOMPLETE_GRANT", errorCode(t, rec))
}

func TestListCalendars_ReauthRequiredDeactivates(t *testing.T) {
	store := &mockStore{cred: validCredential(time.Now().Add(-time.Minute))}
	refresher := &mockRefresher{err: &driven.RefreshError{
		Kind: driven.RefreshReauthRequired,
		Code: "invalid_grant",
	}}
	f := newFixture(t, store, refresher)

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REAUTH_REQUIRED", errorCode(t, rec))
	assert.Equal(t, 1, store.deactivated)
}

func TestListCalendars_TransientRefreshFailure(t *testing.T) {
	store := &mockStore{cred: validCredential(time.Now().Add(-time.Minute))}
	refresher := &mockRefresher{err: &driven.RefreshError{
		Kind:   driven.RefreshTransient,
		Reason: "timeout",
	}}
	f := newFixture(t, store, refresher)

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/calendars", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "REFRESH_UNAVAILABLE", errorCode(t, rec))
	assert.Zero(t, store.deactivated)
}

func TestGetConnection(t *testing.T) {
	f := newFixture(t, &mockStore{cred: validCredential(time.Now().Add(2 * time.Hour))}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/connection", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, false, body["expired"])
	assert.NotNil(t, body["expires_in_ms"])
}

func TestGetConnection_NotConnected(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/connection", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["connected"])
}

func TestGetConnection_ForcedRefresh(t *testing.T) {
	store := &mockStore{cred: validCredential(time.Now().Add(2 * time.Hour))}
	refresher := &mockRefresher{tok: &model.RefreshedToken{
		AccessToken: "ya29.fresh",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	f := newFixture(t, store, refresher)

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/connection?refresh=true", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), refresher.calls.Load(), "forced refresh ignores the verdict")
	assert.Equal(t, 1, store.saved)
}

func TestDisconnect(t *testing.T) {
	store := &mockStore{userID: "u1"}
	f := newFixture(t, store, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodDelete, "/api/v1/connection", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, store.deactivated)
}

func TestGetAuthURL(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/auth/google/url", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["auth_url"], "state="+body["state"])
	assert.NotContains(t, body["auth_url"], "prompt=consent")
}

func TestGetAuthURL_ForceConsent(t *testing.T) {
	f := newFixture(t, &mockStore{}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet, "/api/v1/auth/google/url?force=true", sessionToken(t, "alice@example.com"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["auth_url"], "prompt=consent")
}

func TestListEvents_InvalidWindow(t *testing.T) {
	f := newFixture(t, &mockStore{cred: validCredential(time.Now().Add(2 * time.Hour))}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet,
		"/api/v1/calendars/primary/events?from=yesterday", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestListEvents_InvertedWindow(t *testing.T) {
	f := newFixture(t, &mockStore{cred: validCredential(time.Now().Add(2 * time.Hour))}, &mockRefresher{})

	rec := doRequest(t, f.handler, http.MethodGet,
		"/api/v1/calendars/primary/events?from=2026-03-15T00:00:00Z&to=2026-03-14T00:00:00Z",
		sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestListEvents(t *testing.T) {
	f := newFixture(t, &mockStore{cred: validCredential(time.Now().Add(2 * time.Hour))}, &mockRefresher{})
	f.client.events = []model.EventInfo{{
		ID:      "ev1",
		Summary: "Standup",
		Start:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC),
	}}

	rec := doRequest(t, f.handler, http.MethodGet,
		"/api/v1/calendars/primary/events", sessionToken(t, "alice@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "Standup", body[0]["summary"])
}
