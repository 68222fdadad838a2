// Package httphandler is the HTTP driving adapter that serves the REST API.
// Every calendar endpoint runs the token pipeline before touching the
// provider; the pipeline order (validate, then refresh, then attach) is fixed.
package httphandler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/YosefHayim/calbroker/internal/application"
	"github.com/YosefHayim/calbroker/internal/domain/model"
	"github.com/YosefHayim/calbroker/internal/domain/port/driven"
)

// AuthURLFunc generates a provider consent URL for the given state nonce.
type AuthURLFunc func(state string, forceConsent bool) string

// Handler serves the REST API.
type Handler struct {
	tokens            *application.TokenService
	authURL           AuthURLFunc
	newCalendarClient driven.CalendarClientFactory
	logger            *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	tokens *application.TokenService,
	authURL AuthURLFunc,
	newCalendarClient driven.CalendarClientFactory,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		tokens:            tokens,
		authURL:           authURL,
		newCalendarClient: newCalendarClient,
		logger:            logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered. API routes
// sit behind the session-token middleware; the health probe does not.
func NewServeMux(h *Handler, sessionSecret []byte, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/auth/google/url", h.GetAuthURL)
	api.HandleFunc("GET /api/v1/connection", h.GetConnection)
	api.HandleFunc("DELETE /api/v1/connection", h.Disconnect)
	api.HandleFunc("GET /api/v1/calendars", h.ListCalendars)
	api.HandleFunc("GET /api/v1/calendars/{id}", h.GetCalendar)
	api.HandleFunc("GET /api/v1/calendars/{id}/events", h.ListEvents)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", h.Health)
	root.Handle("/api/v1/", authMiddleware(sessionSecret, api))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, root)
	wrapped = loggingMiddleware(logger, wrapped)
	return requestIDMiddleware(wrapped)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authURLResponse is the JSON body of the auth-URL endpoint.
type authURLResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// GetAuthURL returns the Google consent URL. ?force=true re-shows the consent
// screen, which is required to obtain a new refresh token after re-auth.
func (h *Handler) GetAuthURL(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	state := uuid.NewString()

	writeJSON(w, http.StatusOK, authURLResponse{
		AuthURL: h.authURL(state, force),
		State:   state,
	})
}

// connectionResponse is the JSON view of a principal's credential state.
type connectionResponse struct {
	Connected   bool   `json:"connected"`
	Valid       bool   `json:"valid"`
	Refreshable bool   `json:"refreshable"`
	Expired     bool   `json:"expired"`
	NearExpiry  bool   `json:"near_expiry"`
	ExpiresInMS *int64 `json:"expires_in_ms"`
}

func connectionFromStatus(s *application.ConnectionStatus) connectionResponse {
	return connectionResponse{
		Connected:   s.Connected,
		Valid:       s.Valid,
		Refreshable: s.Refreshable,
		Expired:     s.Verdict.IsExpired,
		NearExpiry:  s.Verdict.IsNearExpiry,
		ExpiresInMS: remainingMS(s.Verdict),
	}
}

func remainingMS(v model.ExpiryVerdict) *int64 {
	if v.Remaining == nil {
		return nil
	}
	ms := v.Remaining.Milliseconds()
	return &ms
}

// GetConnection reports the connection state without side effects.
// ?refresh=true instead forces a token refresh and reports the result.
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := Principal(ctx)

	if r.URL.Query().Get("refresh") == "true" {
		granted, err := h.tokens.EnsureFreshForced(ctx, principal)
		if err != nil {
			writeAccessError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, connectionResponse{
			Connected:   true,
			Valid:       true,
			Refreshable: true,
			NearExpiry:  granted.Verdict.IsNearExpiry,
			ExpiresInMS: remainingMS(granted.Verdict),
		})
		return
	}

	status, err := h.tokens.Status(ctx, principal)
	if err != nil {
		writeAccessError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionFromStatus(status))
}

// Disconnect deactivates the principal's calendar connection.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Disconnect(r.Context(), Principal(r.Context())); err != nil {
		writeAccessError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// calendarResponse is the JSON representation of a calendar.
type calendarResponse struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	TimeZone    string `json:"time_zone,omitempty"`
	Primary     bool   `json:"primary"`
	AccessRole  string `json:"access_role,omitempty"`
}

func toCalendarResponse(c model.CalendarInfo) calendarResponse {
	return calendarResponse{
		ID:          c.ID,
		Summary:     c.Summary,
		Description: c.Description,
		TimeZone:    c.TimeZone,
		Primary:     c.Primary,
		AccessRole:  c.AccessRole,
	}
}

// ListCalendars lists all calendars the connected account can see.
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.attach(w, r)
	if !ok {
		return
	}

	calendars, err := client.ListCalendars(ctx)
	if err != nil {
		h.providerError(w, ctx, "list calendars", err)
		return
	}

	out := make([]calendarResponse, 0, len(calendars))
	for _, c := range calendars {
		out = append(out, toCalendarResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCalendar returns one calendar's metadata.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, ok := h.attach(w, r)
	if !ok {
		return
	}

	cal, err := client.GetCalendar(ctx, r.PathValue("id"))
	if err != nil {
		h.providerError(w, ctx, "get calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, toCalendarResponse(*cal))
}

// eventResponse is the JSON representation of a calendar event.
type eventResponse struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	AllDay   bool   `json:"all_day"`
}

// ListEvents lists events in a time window, defaulting to the next 7 days.
// ?from= and ?to= take RFC 3339 timestamps.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	from, to, err := eventWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	client, ok := h.attach(w, r)
	if !ok {
		return
	}

	events, err := client.ListEvents(ctx, r.PathValue("id"), from, to)
	if err != nil {
		h.providerError(w, ctx, "list events", err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:       ev.ID,
			Summary:  ev.Summary,
			Location: ev.Location,
			Status:   ev.Status,
			Start:    ev.Start.Format(time.RFC3339),
			End:      ev.End.Format(time.RFC3339),
			AllDay:   ev.AllDay,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// attach runs the token pipeline and constructs a calendar client from the
// guaranteed-fresh credential. On failure it writes the response and returns
// ok=false. The stages never run out of order: a credential that failed
// validation or refresh cannot reach the provider client.
func (h *Handler) attach(w http.ResponseWriter, r *http.Request) (driven.CalendarClient, bool) {
	ctx := r.Context()

	granted, err := h.tokens.EnsureFresh(ctx, Principal(ctx))
	if err != nil {
		writeAccessError(w, h.logger, err)
		return nil, false
	}

	client, err := h.newCalendarClient(ctx, &granted.Credential)
	if err != nil {
		h.logger.Error("calendar client construction failed",
			"request_id", RequestID(ctx), "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return nil, false
	}
	return client, true
}

func (h *Handler) providerError(w http.ResponseWriter, ctx context.Context, op string, err error) {
	h.logger.Error("calendar provider call failed",
		"op", op, "request_id", RequestID(ctx), "error", err)
	writeError(w, http.StatusBadGateway, "PROVIDER_ERROR", "calendar provider error")
}

func eventWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now()
	from, to := now, now.Add(7*24*time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("event window end %s is not after start %s",
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return from, to, nil
}
