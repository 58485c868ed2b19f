package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/dbx"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/artistdir/internal/wallet"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Archiver stores a record of each committed merge.
type Archiver interface {
	Archive(ctx context.Context, rec models.MergeRecord) error
}

// LinkResult reports how a wallet link was satisfied.
type LinkResult struct {
	Merged bool
}

// AccountService binds wallets to external identities and folds legacy
// wallet-only accounts into the identity that proves ownership of them.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archiver    Archiver
	logger      logging.Logger
	now         func() time.Time
	links       metric.Int64Counter
}

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, a Archiver, l logging.Logger) *AccountService {
	return &AccountService{
		db:          db,
		repomanager: m,
		archiver:    a,
		logger:      l.With("module", "accounts"),
		now:         time.Now,
		links:       newCounter("artistdir.wallet.links", "Wallet link requests by outcome"),
	}
}

// LinkWallet binds rawWallet to the user holding externalID.
//
// When no user holds the wallet it is set on the current row. When a
// wallet-only legacy user holds it, the current user is merged into the
// legacy one. A wallet held by another external identity is a conflict.
func (s *AccountService) LinkWallet(ctx context.Context, externalID, rawWallet string) (*LinkResult, error) {
	addr, err := wallet.Normalize(rawWallet)
	if err != nil {
		s.count(ctx, "invalid")
		return nil, err
	}
	if externalID == "" {
		return nil, common.ErrorUnauthorized
	}

	repo := s.repomanager.Users(s.db)

	owner, err := repo.GetByWallet(ctx, addr)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.count(ctx, "error")
		return nil, err
	}

	if owner == nil {
		if err := repo.SetWallet(ctx, externalID, addr); err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				s.count(ctx, "conflict")
				return nil, common.ErrWalletConflict
			}
			s.count(ctx, "error")
			return nil, err
		}
		s.logger.Info(ctx, "wallet linked", "external_id", externalID, "wallet", wallet.Short(addr))
		s.count(ctx, "linked")
		return &LinkResult{Merged: false}, nil
	}

	if owner.HasExternalIdentity() {
		if *owner.ExternalIdentityID == externalID {
			s.count(ctx, "linked")
			return &LinkResult{Merged: false}, nil
		}
		s.logger.Warn(ctx, "wallet already linked to another identity", "external_id", externalID, "wallet", wallet.Short(addr))
		s.count(ctx, "conflict")
		return nil, common.ErrWalletConflict
	}

	current, err := repo.GetByExternalID(ctx, externalID)
	if err != nil {
		s.count(ctx, "error")
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrMergeUserNotFound
		}
		return nil, fmt.Errorf("%w: %w", common.ErrMergeFailed, err)
	}

	if _, err := s.Merge(ctx, current.ID, owner.ID); err != nil {
		s.count(ctx, "error")
		return nil, err
	}

	s.count(ctx, "merged")
	return &LinkResult{Merged: true}, nil
}

// Merge folds the current user into the legacy user in one transaction.
// The legacy row survives and takes over the current row's external
// identity, email (when set) and contributions; the current row is deleted.
//
// Both rows are re-read under lock, so a row that vanished since the caller
// looked yields common.ErrMergeUserNotFound, and a legacy row that picked up
// an external identity in the meantime yields common.ErrWalletConflict. Any
// other failure rolls back and yields common.ErrMergeFailed.
func (s *AccountService) Merge(ctx context.Context, currentID, legacyID string) (*models.MergeRecord, error) {
	if currentID == legacyID {
		return nil, fmt.Errorf("%w: cannot merge a user into itself", common.ErrMergeFailed)
	}

	var rec models.MergeRecord

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		owned := s.repomanager.Ownership(tx)

		current, legacy, err := lockPair(ctx, users, currentID, legacyID)
		if err != nil {
			return err
		}
		if !current.HasExternalIdentity() {
			return errors.New("current user has no external identity")
		}
		if legacy.HasExternalIdentity() {
			return common.ErrWalletConflict
		}

		combined := legacy.ContributionCount() + current.ContributionCount()
		email := current.Email
		if email == nil {
			email = legacy.Email
		}

		if err := users.ApplyMerge(ctx, legacy.ID, *current.ExternalIdentityID, email, combined); err != nil {
			return fmt.Errorf("update legacy user: %w", err)
		}

		artists, err := owned.ReassignArtists(ctx, current.ID, legacy.ID)
		if err != nil {
			return fmt.Errorf("reassign artists: %w", err)
		}
		contributions, err := owned.ReassignContributions(ctx, current.ID, legacy.ID)
		if err != nil {
			return fmt.Errorf("reassign contributions: %w", err)
		}

		if err := users.Delete(ctx, current.ID); err != nil {
			return fmt.Errorf("delete current user: %w", err)
		}

		rec = models.MergeRecord{
			CurrentID:          current.ID,
			LegacyID:           legacy.ID,
			ExternalIdentityID: *current.ExternalIdentityID,
			CombinedCount:      combined,
			ArtistsMoved:       artists,
			ContributionsMoved: contributions,
		}
		if legacy.Wallet != nil {
			rec.Wallet = *legacy.Wallet
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrMergeUserNotFound) {
			s.logger.Warn(ctx, "merge aborted, user vanished", "current_id", currentID, "legacy_id", legacyID)
			return nil, common.ErrMergeUserNotFound
		}
		if errors.Is(err, common.ErrWalletConflict) {
			s.logger.Warn(ctx, "merge aborted, legacy user already linked", "current_id", currentID, "legacy_id", legacyID)
			return nil, common.ErrWalletConflict
		}
		s.logger.Error(ctx, "merge failed", "current_id", currentID, "legacy_id", legacyID, "error", err.Error())
		return nil, fmt.Errorf("%w: %w", common.ErrMergeFailed, err)
	}

	rec.MergedAt = s.now().UTC()
	s.logger.Info(ctx, "accounts merged", "current_id", rec.CurrentID, "legacy_id", rec.LegacyID,
		"wallet", wallet.Short(rec.Wallet), "combined_count", rec.CombinedCount)

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, rec); err != nil {
			s.logger.Warn(ctx, "merge archive failed", "legacy_id", rec.LegacyID, "error", err.Error())
		}
	}

	return &rec, nil
}

type rowLocker interface {
	GetByIDForUpdate(ctx context.Context, id string) (*models.User, error)
}

// lockPair locks both rows in id order so two merges touching the same
// rows cannot deadlock.
func lockPair(ctx context.Context, users rowLocker, currentID, legacyID string) (current, legacy *models.User, err error) {
	first, second := currentID, legacyID
	if second < first {
		first, second = second, first
	}

	a, err := lockOne(ctx, users, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := lockOne(ctx, users, second)
	if err != nil {
		return nil, nil, err
	}

	if a.ID == currentID {
		return a, b, nil
	}
	return b, a, nil
}

func lockOne(ctx context.Context, users rowLocker, id string) (*models.User, error) {
	u, err := users.GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrMergeUserNotFound
		}
		return nil, fmt.Errorf("lock user %s: %w", id, err)
	}
	return u, nil
}

func (s *AccountService) count(ctx context.Context, outcome string) {
	s.links.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
