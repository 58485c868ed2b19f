package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/dbx"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/google/uuid"
)

const userColumns = `id, external_identity_id, wallet, email, username,
		        is_admin, is_super_admin, is_white_listed, is_hidden,
		        accepted_contribution_count, created_at, updated_at`

var roleColumns = map[models.Role]string{
	models.RoleAdmin:       "is_admin",
	models.RoleSuperAdmin:  "is_super_admin",
	models.RoleWhiteListed: "is_white_listed",
	models.RoleHidden:      "is_hidden",
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.ExternalIdentityID, &u.Wallet, &u.Email, &u.Username,
		&u.IsAdmin, &u.IsSuperAdmin, &u.IsWhiteListed, &u.IsHidden,
		&u.AcceptedContributionCount, &u.CreatedAt, &u.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 FOR UPDATE`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE external_identity_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, externalID))
}

func (r *PostgresRepository) GetByWallet(ctx context.Context, wallet string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE wallet = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, strings.ToLower(wallet)))
}

// Create inserts user with a fresh id. Role flags always start false.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (id, external_identity_id, wallet, email, username)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`

	user.ID = uuid.NewString()
	user.IsAdmin, user.IsSuperAdmin, user.IsWhiteListed, user.IsHidden = false, false, false, false

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.ExternalIdentityID, user.Wallet, user.Email, user.Username).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

// BackfillUsername sets username only while it is still NULL, so a name
// chosen in the meantime is never overwritten.
func (r *PostgresRepository) BackfillUsername(ctx context.Context, id string, username string) error {
	query :=
		`UPDATE users SET username = $2, updated_at = now()
		 WHERE id = $1 AND username IS NULL`

	if _, err := r.db.ExecContext(ctx, query, id, username); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetWallet(ctx context.Context, externalID string, wallet string) error {
	query :=
		`UPDATE users SET wallet = $2, updated_at = now()
		 WHERE external_identity_id = $1`

	res, err := r.db.ExecContext(ctx, query, externalID, wallet)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// ApplyMerge moves the surviving identity fields onto the legacy row.
func (r *PostgresRepository) ApplyMerge(ctx context.Context, legacyID string, externalID string, email *string, count int) error {
	query :=
		`UPDATE users
		 SET external_identity_id = $2, email = $3, accepted_contribution_count = $4, updated_at = now()
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, legacyID, externalID, email, count)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) SetRole(ctx context.Context, id string, role models.Role, value bool) error {
	column, ok := roleColumns[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	query := `UPDATE users SET ` + column + ` = $2, updated_at = now()
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) FindDuplicateEmails(ctx context.Context) ([]models.DuplicateEmail, error) {
	query :=
		`SELECT lower(email), string_agg(id::text, ',' ORDER BY created_at)
		 FROM users
		 WHERE email IS NOT NULL
		 GROUP BY lower(email)
		 HAVING count(*) > 1
		 ORDER BY 1`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.DuplicateEmail
	for rows.Next() {
		var email, ids string
		if err := rows.Scan(&email, &ids); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, models.DuplicateEmail{Email: email, UserIDs: strings.Split(ids, ",")})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
