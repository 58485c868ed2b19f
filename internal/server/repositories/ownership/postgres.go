package ownership

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/artistdir/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ReassignArtists(ctx context.Context, fromUserID, toUserID string) (int64, error) {
	query :=
		`UPDATE artists SET added_by = $2
		 WHERE added_by = $1`

	return r.reassign(ctx, query, fromUserID, toUserID)
}

func (r *PostgresRepository) ReassignContributions(ctx context.Context, fromUserID, toUserID string) (int64, error) {
	query :=
		`UPDATE ugcresearch SET user_id = $2
		 WHERE user_id = $1`

	return r.reassign(ctx, query, fromUserID, toUserID)
}

func (r *PostgresRepository) reassign(ctx context.Context, query, from, to string) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, from, to)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
