package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/auth"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/repomanager"
)

// StalenessWindow is how long session claims are trusted before they are
// re-read from the database.
const StalenessWindow = 5 * time.Minute

// SessionView is the session object every route handler works with.
type SessionView struct {
	ID                 string  `json:"id"`
	ExternalIdentityID *string `json:"externalIdentityId"`
	WalletAddress      *string `json:"walletAddress"`
	Email              *string `json:"email"`
	Username           *string `json:"username"`
	IsAdmin            bool    `json:"isAdmin"`
	IsSuperAdmin       bool    `json:"isSuperAdmin"`
	IsWhiteListed      bool    `json:"isWhiteListed"`
	IsHidden           bool    `json:"isHidden"`
	NeedsSecondaryLink bool    `json:"needsSecondaryLink"`
}

// ClaimsService builds session claims and keeps them in step with the
// users table.
type ClaimsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewClaimsService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *ClaimsService {
	return &ClaimsService{
		db:          db,
		repomanager: m,
		logger:      l.With("module", "claims"),
		now:         time.Now,
	}
}

// Issue builds fresh claims for a resolved identity.
func (s *ClaimsService) Issue(id *Identity) auth.SessionClaims {
	c := auth.SessionClaims{
		ExternalIdentityID: id.ExternalIdentityID,
		WalletAddress:      id.Wallet,
		Email:              id.Email,
		Username:           id.Username,
		IsAdmin:            boolPtr(id.IsAdmin),
		IsSuperAdmin:       boolPtr(id.IsSuperAdmin),
		IsWhiteListed:      boolPtr(id.IsWhiteListed),
		IsHidden:           boolPtr(id.IsHidden),
		NeedsSecondaryLink: id.NeedsSecondaryLink,
		LastRefresh:        s.now().UnixMilli(),
	}
	c.Subject = id.ID
	return c
}

// RefreshIfStale re-reads the user behind claims when forced, when the
// claims are older than StalenessWindow, or when a role flag is missing.
// Fresh claims are returned as is without touching the database. A failed
// lookup returns claims unchanged with LastRefresh not advanced, so the next
// request retries.
func (s *ClaimsService) RefreshIfStale(ctx context.Context, claims auth.SessionClaims, force bool) auth.SessionClaims {
	now := s.now()
	if !force && !s.isStale(claims, now) {
		return claims
	}

	user, err := s.lookup(ctx, claims)
	if err != nil {
		s.logger.Warn(ctx, "session refresh failed", "user_id", claims.Subject, "error", err.Error())
		return claims
	}
	if user == nil {
		return claims
	}

	claims.Subject = user.ID
	claims.ExternalIdentityID = user.ExternalIdentityID
	claims.WalletAddress = user.Wallet
	claims.Email = user.Email
	claims.Username = user.Username
	claims.IsAdmin = boolPtr(user.IsAdmin)
	claims.IsSuperAdmin = boolPtr(user.IsSuperAdmin)
	claims.IsWhiteListed = boolPtr(user.IsWhiteListed)
	claims.IsHidden = boolPtr(user.IsHidden)
	claims.NeedsSecondaryLink = !user.HasWallet()
	claims.LastRefresh = now.UnixMilli()

	return claims
}

func (s *ClaimsService) isStale(c auth.SessionClaims, now time.Time) bool {
	if c.IsAdmin == nil || c.IsSuperAdmin == nil || c.IsWhiteListed == nil || c.IsHidden == nil {
		return true
	}
	return now.Sub(time.UnixMilli(c.LastRefresh)) >= StalenessWindow
}

// lookup finds the user by external identity, falling back to the wallet.
// Claims carrying neither yield (nil, nil).
func (s *ClaimsService) lookup(ctx context.Context, c auth.SessionClaims) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	switch {
	case c.ExternalIdentityID != nil && *c.ExternalIdentityID != "":
		return repo.GetByExternalID(ctx, *c.ExternalIdentityID)
	case c.WalletAddress != nil && *c.WalletAddress != "":
		return repo.GetByWallet(ctx, *c.WalletAddress)
	default:
		return nil, nil
	}
}

// Project maps claims onto the session view one to one. A role flag missing
// from the claims reads as false.
func (s *ClaimsService) Project(c auth.SessionClaims) SessionView {
	return SessionView{
		ID:                 c.Subject,
		ExternalIdentityID: c.ExternalIdentityID,
		WalletAddress:      c.WalletAddress,
		Email:              c.Email,
		Username:           c.Username,
		IsAdmin:            boolValue(c.IsAdmin),
		IsSuperAdmin:       boolValue(c.IsSuperAdmin),
		IsWhiteListed:      boolValue(c.IsWhiteListed),
		IsHidden:           boolValue(c.IsHidden),
		NeedsSecondaryLink: c.NeedsSecondaryLink,
	}
}

func boolPtr(b bool) *bool { return &b }

// boolValue reads a claim flag; a missing flag grants nothing.
func boolValue(b *bool) bool { return b != nil && *b }
