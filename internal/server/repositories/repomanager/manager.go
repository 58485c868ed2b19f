package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/artistdir/internal/dbx"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/ownership"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either a *sql.DB or a
// *sql.Tx, so one service method can run the same repositories inside or
// outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Ownership(db dbx.DBTX) ownership.Repository
}
