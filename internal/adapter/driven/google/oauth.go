// Package google implements the TokenRefresher port and calendar client
// construction against Google's OAuth and Calendar APIs.
package google

import (
	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
)

// Scopes requested at consent time. Calendar access plus the identity scopes
// needed to key credentials by email.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// NewOAuthConfig builds the app-level OAuth identity: client id, secret, and
// redirect target. The returned config is immutable and safe to share
// process-wide; anything that accumulates per-call token state (a TokenSource)
// must be constructed per operation instead.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     googleauth.Endpoint,
	}
}

// AuthURLOptions controls consent-URL generation.
type AuthURLOptions struct {
	// ForceConsent makes Google re-show the consent screen even for a user
	// who already granted access. Required to obtain a new refresh token
	// after the old one died.
	ForceConsent bool
}

// AuthURL generates the Google consent URL. Offline access is always
// requested so the grant includes a refresh token on first consent.
func AuthURL(cfg *oauth2.Config, state string, opts AuthURLOptions) string {
	params := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if opts.ForceConsent {
		params = append(params, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return cfg.AuthCodeURL(state, params...)
}
