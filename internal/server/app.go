// Package server wires the identity service together: storage, the identity
// provider, services, and the HTTP and gRPC listeners. It also handles
// graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/artistdir/internal/buildinfo"
	"github.com/dmitrijs2005/artistdir/internal/dbx"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/audit"
	"github.com/dmitrijs2005/artistdir/internal/server/config"
	"github.com/dmitrijs2005/artistdir/internal/server/identity"
	"github.com/dmitrijs2005/artistdir/internal/server/identity/privy"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/artistdir/internal/server/services"
	"github.com/dmitrijs2005/artistdir/internal/server/telemetry"

	gs "github.com/dmitrijs2005/artistdir/internal/server/grpc"
	hs "github.com/dmitrijs2005/artistdir/internal/server/http"
)

const serviceName = "artistdir-identity"

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	telemetry *telemetry.Providers

	identityService *services.IdentityService
	claimsService   *services.ClaimsService
	accountService  *services.AccountService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, !c.IsProduction())

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Version:      buildinfo.Version,
		Environment:  c.Environment,
		OTLPEndpoint: c.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	db, err := dbx.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	provider, err := privy.New(ctx, privy.Config{
		AppID:           c.PrivyAppID,
		AppSecret:       c.PrivyAppSecret,
		APIURL:          c.PrivyAPIURL,
		VerificationKey: c.PrivyVerificationKey,
		Timeout:         c.ProviderTimeout,
	}, logger)
	if err != nil {
		_ = db.Close()
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("identity provider init error: %w", err)
	}

	archiver, err := newArchiver(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("audit archive init error: %w", err)
	}

	verifier := identity.NewVerifier(provider, c.IsProduction(), logger)

	return &App{
		config:          c,
		logger:          logger,
		db:              db,
		telemetry:       tp,
		identityService: services.NewIdentityService(db, rm, verifier, logger),
		claimsService:   services.NewClaimsService(db, rm, logger),
		accountService:  services.NewAccountService(db, rm, archiver, logger),
	}, nil
}

func newArchiver(ctx context.Context, c *config.Config, l logging.Logger) (services.Archiver, error) {
	if c.S3Bucket == "" {
		return audit.NopArchiver{}, nil
	}
	return audit.NewS3Archiver(ctx, audit.Config{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
	}, l)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := hs.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger,
		app.identityService, app.claimsService, app.accountService, hs.Options{
			SecretKey:       app.config.SecretKey,
			BaseURL:         app.config.BaseURL,
			CookieName:      app.config.SessionCookieName(),
			SecureCookie:    app.config.IsProduction(),
			MaxAge:          app.config.SessionMaxAge,
			SignInPerMinute: app.config.SignInRatePerMinute,
			SignInBurst:     app.config.SignInBurst,
			TrustedProxies:  app.config.TrustedProxies,
		})

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a signal arrives, then releases the
// database and flushes telemetry.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "environment", app.config.Environment, "version", buildinfo.Version)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close()
}

func (app *App) close() {
	ctx := context.Background()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
	if err := app.telemetry.Shutdown(ctx); err != nil {
		app.logger.Error(ctx, "telemetry shutdown error", "error", err.Error())
	}

	app.logger.Info(ctx, "App stopped")
}
