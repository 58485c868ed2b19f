package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/artistdir/internal/admin"
	"github.com/dmitrijs2005/artistdir/internal/dbx"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/audit"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/artistdir/internal/server/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := admin.ParseConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		return 2
	}

	if cfg.PromptPassword {
		pw, err := admin.GetPassword(os.Stderr, "Database password: ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "read password: %v\n", err)
			return 1
		}
		dsn, err := admin.WithPassword(cfg.DatabaseDSN, string(pw))
		clear(pw)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg.DatabaseDSN = dsn
	}

	db, err := dbx.OpenPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db: %v\n", err)
		return 1
	}
	defer db.Close()

	logger := logging.NewJSON(os.Stderr, false)
	rm := repomanager.NewPostgresRepositoryManager()
	accounts := services.NewAccountService(db, rm, audit.NopArchiver{}, logger)

	app := admin.NewApp(db, rm, accounts, os.Stdin, os.Stdout, cfg.AssumeYes)
	if err := app.Run(ctx, cfg.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, admin.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
