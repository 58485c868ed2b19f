// Package models holds the persisted records owned by the identity service.
package models

import "time"

// User is a row of the users table. Nullable columns are pointers.
//
// Every persisted user has an ExternalIdentityID, a Wallet, or both.
type User struct {
	ID                        string
	ExternalIdentityID        *string
	Wallet                    *string
	Email                     *string
	Username                  *string
	IsAdmin                   bool
	IsSuperAdmin              bool
	IsWhiteListed             bool
	IsHidden                  bool
	AcceptedContributionCount *int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// HasWallet reports whether a wallet is bound to the user.
func (u *User) HasWallet() bool {
	return u.Wallet != nil && *u.Wallet != ""
}

// HasExternalIdentity reports whether the user is bound to a provider identity.
func (u *User) HasExternalIdentity() bool {
	return u.ExternalIdentityID != nil && *u.ExternalIdentityID != ""
}

// ContributionCount returns the accepted contribution count, treating NULL as 0.
func (u *User) ContributionCount() int {
	if u.AcceptedContributionCount == nil {
		return 0
	}
	return *u.AcceptedContributionCount
}

// Role is one of the boolean role flags of a user.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "superadmin"
	RoleWhiteListed Role = "whitelisted"
	RoleHidden      Role = "hidden"
)

// DuplicateEmail groups users that share one email address.
type DuplicateEmail struct {
	Email   string
	UserIDs []string
}

// MergeRecord describes a committed account merge.
type MergeRecord struct {
	CurrentID          string    `json:"currentId"`
	LegacyID           string    `json:"legacyId"`
	ExternalIdentityID string    `json:"externalIdentityId"`
	Wallet             string    `json:"wallet"`
	CombinedCount      int       `json:"combinedCount"`
	ArtistsMoved       int64     `json:"artistsMoved"`
	ContributionsMoved int64     `json:"contributionsMoved"`
	MergedAt           time.Time `json:"mergedAt"`
}
