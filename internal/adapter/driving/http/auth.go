package httphandler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const principalKey contextKey = "principal"

// Principal returns the authenticated principal email attached by
// authMiddleware, or "" when the request was not authenticated.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey).(string)
	return p
}

// sessionClaims is the payload of the HS256 session token issued by the
// sign-in flow. Only the email claim matters here; it is the principal key
// the credential store is addressed by.
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// authMiddleware verifies the bearer session token and attaches the
// normalized principal email to the request context. Requests without a
// valid token never reach the token pipeline.
func authMiddleware(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := principalFromRequest(r, secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromRequest(r *http.Request, secret []byte) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid session token")
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return "", fmt.Errorf("session token has no email claim")
	}
	return email, nil
}
