package model

import "time"

// Provider identifies the external calendar provider a credential belongs to.
// Exactly one provider is supported today; the discriminator exists so the
// storage schema does not need to change when another one is added.
type Provider string

const ProviderGoogle Provider = "google"

// Credential is one user's delegated access grant to one provider.
// Exactly one Credential exists per (user, provider) pair.
type Credential struct {
	UserID       string
	Email        string
	Provider     Provider
	AccessToken  string
	RefreshToken string // empty means the grant can never be refreshed
	TokenType    string
	Scope        string
	IDToken      string
	// ExpiresAt is the absolute instant the access token lapses.
	// The zero value means "unknown", which the classifier treats as expired.
	ExpiresAt time.Time
	// IsValid is cleared when the provider confirms the grant is dead or the
	// user disconnects. An invalid credential is never refreshed.
	IsValid bool
}

// Refreshable reports whether a refresh attempt is even possible.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// RefreshedToken is the result of a successful upstream token exchange.
type RefreshedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}
