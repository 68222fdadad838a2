package application

// AccessErrorKind classifies why the token pipeline refused a request.
type AccessErrorKind string

const (
	// AccessUnauthenticated means no principal was attached to the request.
	AccessUnauthenticated AccessErrorKind = "unauthenticated"
	// AccessNotConnected means the principal has no credential on file.
	AccessNotConnected AccessErrorKind = "not_connected"
	// AccessRevoked means the credential exists but is flagged invalid.
	AccessRevoked AccessErrorKind = "access_revoked"
	// AccessIncompleteGrant means the credential has no refresh token and can
	// never be refreshed. Distinct from AccessRevoked: the record may still
	// hold a live access token, but it is a dead-end requiring re-consent.
	AccessIncompleteGrant AccessErrorKind = "incomplete_grant"
	// AccessReauthRequired means a refresh was attempted and the upstream
	// confirmed the grant is dead. The credential has been deactivated.
	AccessReauthRequired AccessErrorKind = "reauth_required"
	// AccessTemporarilyUnavailable means a refresh was attempted and failed
	// for a reason that says nothing about grant validity. The credential is
	// left untouched; the caller may retry the whole request later.
	AccessTemporarilyUnavailable AccessErrorKind = "temporarily_unavailable"
	// AccessInternal is a store or infrastructure failure unrelated to grant
	// validity. Never surfaced to the user as a reconnect prompt.
	AccessInternal AccessErrorKind = "internal"
)

// AccessError is the kind-tagged failure the token pipeline short-circuits
// with. Message is safe to show to the end user; Err carries the underlying
// cause for logs.
type AccessError struct {
	Kind    AccessErrorKind
	Message string
	Err     error
}

func (e *AccessError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *AccessError) Unwrap() error { return e.Err }

func accessErr(kind AccessErrorKind, message string) *AccessError {
	return &AccessError{Kind: kind, Message: message}
}
