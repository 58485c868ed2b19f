package common

const (
	// SessionCookieName is the session cookie used outside production.
	SessionCookieName = "artistdir.session-token"

	// SecureSessionCookieName is the production cookie; the __Secure- prefix
	// makes browsers refuse it over plain HTTP.
	SecureSessionCookieName = "__Secure-artistdir.session-token"

	// EnvironmentProduction is the only environment that rejects direct
	// provider ids as credentials.
	EnvironmentProduction = "production"
)
