// Package http exposes the session and wallet-link endpoints over gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/auth"
	"github.com/dmitrijs2005/artistdir/internal/server/services"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

type identityService interface {
	Authorize(ctx context.Context, raw string) (*services.Identity, error)
}

type claimsService interface {
	Issue(id *services.Identity) auth.SessionClaims
	RefreshIfStale(ctx context.Context, claims auth.SessionClaims, force bool) auth.SessionClaims
	Project(claims auth.SessionClaims) services.SessionView
}

type accountService interface {
	LinkWallet(ctx context.Context, externalID, wallet string) (*services.LinkResult, error)
}

// Options carries the session settings shared by all handlers.
type Options struct {
	SecretKey    string
	BaseURL      string
	CookieName   string
	SecureCookie bool
	MaxAge       time.Duration
	// SignInPerMinute and SignInBurst bound sign-in attempts per client IP.
	SignInPerMinute int
	SignInBurst     int
	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For header is believed. Empty means none: the client IP
	// is the peer address.
	TrustedProxies []string
}

type HTTPServer struct {
	address  string
	opts     Options
	identity identityService
	claims   claimsService
	accounts accountService
	limiter  *ipLimiter
	logger   logging.Logger
}

func NewHTTPServer(a string, l logging.Logger, is identityService, cs claimsService, as accountService, o Options) (*HTTPServer, error) {
	if o.SecretKey == "" {
		return nil, errors.New("session secret is required")
	}
	if o.CookieName == "" {
		return nil, errors.New("session cookie name is required")
	}
	if err := gin.New().SetTrustedProxies(o.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	return &HTTPServer{
		address:  a,
		opts:     o,
		identity: is,
		claims:   cs,
		accounts: as,
		limiter:  newIPLimiter(o.SignInPerMinute, o.SignInBurst),
		logger:   l.With("module", "http_server"),
	}, nil
}

// Router builds the gin engine with every route registered.
func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	// validated in NewHTTPServer
	_ = r.SetTrustedProxies(s.opts.TrustedProxies)
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/signin", s.rateLimit(), s.signIn)
	authGroup.POST("/signout", s.signOut)
	authGroup.GET("/redirect", s.redirect)
	authGroup.GET("/session", s.requireSession(false), s.session)
	authGroup.POST("/session", s.requireSession(true), s.session)

	api.POST("/link-wallet", s.requireSession(false), s.linkWallet)

	return r
}

func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(context.Background(), "HTTP shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
