package identity

import "strings"

const (
	directIDPrefix      = "privyid:"
	identityTokenPrefix = "idtoken:"
)

// Credential is one of BearerToken, IdentityToken or DirectID. The shape is
// decided once, by ParseCredential, and never re-sniffed afterwards.
type Credential interface {
	isCredential()
}

// BearerToken is a provider access token.
type BearerToken struct{ Token string }

// IdentityToken is a provider identity token carrying the user profile.
type IdentityToken struct{ Token string }

// DirectID names a provider user directly. Accepted outside production only.
type DirectID struct{ ID string }

func (BearerToken) isCredential()   {}
func (IdentityToken) isCredential() {}
func (DirectID) isCredential()      {}

// ParseCredential classifies raw by its prefix. Anything that is not
// "privyid:<id>" or "idtoken:<token>" is a bearer token.
func ParseCredential(raw string) Credential {
	switch {
	case strings.HasPrefix(raw, directIDPrefix):
		return DirectID{ID: strings.TrimPrefix(raw, directIDPrefix)}
	case strings.HasPrefix(raw, identityTokenPrefix):
		return IdentityToken{Token: strings.TrimPrefix(raw, identityTokenPrefix)}
	default:
		return BearerToken{Token: raw}
	}
}
