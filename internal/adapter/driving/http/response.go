package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/YosefHayim/calbroker/internal/application"
)

// errorResponse is the standard error response body. Code is a stable
// machine-readable discriminator; Error is safe to show to the end user.
type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeJSON marshals v to JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"INTERNAL","error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

// writeAccessError maps a token-pipeline failure onto the API surface.
// Internal failures are logged with full context but surfaced generically:
// telling a connected user to "reconnect" because the database hiccuped would
// be misleading.
func writeAccessError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var accessErr *application.AccessError
	if !errors.As(err, &accessErr) {
		logger.Error("unexpected pipeline error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	status, code := accessStatus(accessErr.Kind)
	if accessErr.Kind == application.AccessInternal {
		logger.Error("pipeline internal error", "error", accessErr.Err)
		writeError(w, status, code, "internal server error")
		return
	}

	writeError(w, status, code, accessErr.Message)
}

// accessStatus maps an AccessErrorKind to HTTP status and stable code.
func accessStatus(kind application.AccessErrorKind) (int, string) {
	switch kind {
	case application.AccessUnauthenticated:
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case application.AccessNotConnected:
		return http.StatusNotFound, "NOT_CONNECTED"
	case application.AccessRevoked:
		return http.StatusUnauthorized, "ACCESS_REVOKED"
	case application.AccessIncompleteGrant:
		return http.StatusUnauthorized, "INCOMPLETE_GRANT"
	case application.AccessReauthRequired:
		return http.StatusUnauthorized, "REAUTH_REQUIRED"
	case application.AccessTemporarilyUnavailable:
		return http.StatusServiceUnavailable, "REFRESH_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
