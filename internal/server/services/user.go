// Package services contains server-side business logic. This file implements
// IdentityService, which turns a verified external identity into a users row.
package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/identity"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/repomanager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CredentialVerifier verifies a raw sign-in credential.
type CredentialVerifier interface {
	Verify(ctx context.Context, raw string) (*identity.VerifiedIdentity, error)
}

// Identity is the resolved user handed to the session layer.
type Identity struct {
	ID                 string
	ExternalIdentityID *string
	Wallet             *string
	Email              *string
	Username           *string
	IsAdmin            bool
	IsSuperAdmin       bool
	IsWhiteListed      bool
	IsHidden           bool
	NeedsSecondaryLink bool
}

func identityFromUser(u *models.User) *Identity {
	return &Identity{
		ID:                 u.ID,
		ExternalIdentityID: u.ExternalIdentityID,
		Wallet:             u.Wallet,
		Email:              u.Email,
		Username:           u.Username,
		IsAdmin:            u.IsAdmin,
		IsSuperAdmin:       u.IsSuperAdmin,
		IsWhiteListed:      u.IsWhiteListed,
		IsHidden:           u.IsHidden,
		NeedsSecondaryLink: !u.HasWallet(),
	}
}

// IdentityService resolves sign-in credentials to users rows, provisioning
// a row on first sign-in.
type IdentityService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	verifier    CredentialVerifier
	logger      logging.Logger
	signIns     metric.Int64Counter
}

func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, v CredentialVerifier, l logging.Logger) *IdentityService {
	return &IdentityService{
		db:          db,
		repomanager: m,
		verifier:    v,
		logger:      l.With("module", "identity"),
		signIns:     newCounter("artistdir.signin.attempts", "Sign-in attempts by outcome"),
	}
}

// Authorize verifies raw and returns the matching user, creating it when
// the external identity is new. Repeated calls for one external identity
// always resolve to the same user id.
func (s *IdentityService) Authorize(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		s.count(ctx, "missing")
		return nil, common.ErrorUnauthorized
	}

	verified, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		s.count(ctx, "rejected")
		return nil, common.ErrorUnauthorized
	}

	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByExternalID(ctx, verified.ExternalID)
	switch {
	case err == nil:
		s.backfillUsername(ctx, user, verified.Email)
		s.count(ctx, "existing")
		return identityFromUser(user), nil
	case !errors.Is(err, common.ErrorNotFound):
		s.logger.Error(ctx, "Error looking up user", "external_id", verified.ExternalID, "error", err.Error())
		s.count(ctx, "error")
		return nil, common.ErrorInternal
	}

	user, err = s.provision(ctx, verified)
	if err != nil {
		s.logger.Error(ctx, "Error creating user from provider", "external_id", verified.ExternalID, "error", err.Error())
		s.count(ctx, "error")
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "user created", "user_id", user.ID, "external_id", verified.ExternalID)
	s.count(ctx, "created")
	return identityFromUser(user), nil
}

func (s *IdentityService) provision(ctx context.Context, v *identity.VerifiedIdentity) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	externalID := v.ExternalID
	user, err := repo.Create(ctx, &models.User{ExternalIdentityID: &externalID, Email: v.Email})
	if errors.Is(err, common.ErrorAlreadyExists) {
		// A concurrent first sign-in won the insert.
		return repo.GetByExternalID(ctx, externalID)
	}
	return user, err
}

// backfillUsername sets a missing username from the verified email. A
// failure only costs the backfill.
func (s *IdentityService) backfillUsername(ctx context.Context, u *models.User, email *string) {
	if u.Username != nil && *u.Username != "" {
		return
	}
	if email == nil || *email == "" {
		return
	}

	if err := s.repomanager.Users(s.db).BackfillUsername(ctx, u.ID, *email); err != nil {
		s.logger.Warn(ctx, "username backfill failed", "user_id", u.ID, "error", err.Error())
		return
	}

	name := *email
	u.Username = &name
}

func (s *IdentityService) count(ctx context.Context, outcome string) {
	s.signIns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
