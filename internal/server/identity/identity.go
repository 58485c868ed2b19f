// Package identity turns raw sign-in credentials into a verified external
// identity. It fails closed: callers get either a complete VerifiedIdentity
// or common.ErrVerificationFailed.
package identity

import "context"

const (
	AccountTypeWallet = "wallet"
	AccountTypeEmail  = "email"
)

// LinkedAccount is one account the provider reports for a user. Wallet
// accounts carry Address, email accounts carry Email; never both.
type LinkedAccount struct {
	Type    string  `json:"type"`
	Address *string `json:"address,omitempty"`
	Email   *string `json:"email,omitempty"`
}

// VerifiedIdentity is the canonical result of a successful verification.
type VerifiedIdentity struct {
	ExternalID     string
	Email          *string
	LinkedAccounts []LinkedAccount
}

// ProviderAccount is a linked account as the provider reports it: one
// address field whose meaning depends on Type.
type ProviderAccount struct {
	Type    string
	Address string
}

// Profile is a provider user record.
type Profile struct {
	ID       string
	Accounts []ProviderAccount
}

// Provider is the external identity provider. A nil profile with a nil error
// means the provider knows no such user.
type Provider interface {
	// VerifyAccessToken checks a bearer token and returns its subject id.
	VerifyAccessToken(ctx context.Context, token string) (string, error)
	UserByID(ctx context.Context, id string) (*Profile, error)
	UserFromIdentityToken(ctx context.Context, token string) (*Profile, error)
}

// Normalize maps a provider profile onto a VerifiedIdentity. The primary
// email is the first email account's address.
func Normalize(p *Profile) *VerifiedIdentity {
	v := &VerifiedIdentity{
		ExternalID:     p.ID,
		LinkedAccounts: make([]LinkedAccount, 0, len(p.Accounts)),
	}

	for _, a := range p.Accounts {
		la := LinkedAccount{Type: a.Type}
		address := a.Address

		switch a.Type {
		case AccountTypeWallet:
			if address != "" {
				la.Address = &address
			}
		case AccountTypeEmail:
			if address != "" {
				la.Email = &address
				if v.Email == nil {
					v.Email = &address
				}
			}
		}

		v.LinkedAccounts = append(v.LinkedAccounts, la)
	}

	return v
}
