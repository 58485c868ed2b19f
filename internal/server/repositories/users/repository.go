package users

import (
	"context"

	"github.com/dmitrijs2005/artistdir/internal/server/models"
)

// Repository is the persistence boundary for users rows. Lookups return
// common.ErrorNotFound when no row matches; writes that hit a unique index
// return common.ErrorAlreadyExists.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetByWallet(ctx context.Context, wallet string) (*models.User, error)

	Create(ctx context.Context, user *models.User) (*models.User, error)
	BackfillUsername(ctx context.Context, id string, username string) error
	SetWallet(ctx context.Context, externalID string, wallet string) error
	ApplyMerge(ctx context.Context, legacyID string, externalID string, email *string, count int) error
	Delete(ctx context.Context, id string) error

	SetRole(ctx context.Context, id string, role models.Role, value bool) error
	FindDuplicateEmails(ctx context.Context) ([]models.DuplicateEmail, error)
}
