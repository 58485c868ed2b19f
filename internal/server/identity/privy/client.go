// Package privy implements identity.Provider on top of the Privy REST API
// and Privy-issued JWTs.
package privy

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	issuer       = "privy.io"
	appIDHeader  = "privy-app-id"
	tracerName   = "github.com/dmitrijs2005/artistdir/internal/server/identity/privy"
	breakerName  = "privy"
	defaultAPI   = "https://auth.privy.io"
	maxBodyBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	AppID     string
	AppSecret string
	APIURL    string
	// VerificationKey is the PEM encoded ES256 public key for access tokens.
	// When empty, access tokens are checked against the app's JWKS.
	VerificationKey string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

type Client struct {
	appID      string
	appSecret  string
	apiURL     string
	timeout    time.Duration
	httpClient *http.Client
	accessKey  *ecdsa.PublicKey
	idVerifier *oidc.IDTokenVerifier
	cb         *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	logger     logging.Logger
}

var _ identity.Provider = (*Client)(nil)

func New(ctx context.Context, cfg Config, l logging.Logger) (*Client, error) {
	if cfg.AppID == "" {
		return nil, errors.New("privy app id is required")
	}

	c := &Client{
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		tracer:     otel.Tracer(tracerName),
		logger:     l.With("module", "privy"),
	}
	if c.apiURL == "" {
		c.apiURL = defaultAPI
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	if cfg.VerificationKey != "" {
		key, err := jwt.ParseECPublicKeyFromPEM([]byte(cfg.VerificationKey))
		if err != nil {
			return nil, fmt.Errorf("privy verification key: %w", err)
		}
		c.accessKey = key
	}

	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, c.httpClient), c.jwksURL())
	c.idVerifier = oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:             c.appID,
		SupportedSigningAlgs: []string{oidc.ES256},
	})

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c, nil
}

func (c *Client) jwksURL() string {
	return fmt.Sprintf("%s/api/v1/apps/%s/jwks.json", c.apiURL, url.PathEscape(c.appID))
}

// call runs fn under the breaker with the configured timeout and a span.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := c.tracer.Start(ctx, "privy."+op)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return nil, err
	}
	return res, nil
}

// VerifyAccessToken validates an access token and returns the Privy user id.
func (c *Client) VerifyAccessToken(ctx context.Context, token string) (string, error) {
	if c.accessKey != nil {
		_, span := c.tracer.Start(ctx, "privy.verify_access_token", trace.WithAttributes(attribute.Bool("privy.local_key", true)))
		defer span.End()

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return c.accessKey, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(c.appID),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid access token")
			return "", fmt.Errorf("access token: %w", err)
		}
		return claims.Subject, nil
	}

	res, err := c.call(ctx, "verify_access_token", func(ctx context.Context) (any, error) {
		tok, err := c.idVerifier.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return tok.Subject, nil
	})
	if err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	return res.(string), nil
}

type identityClaims struct {
	Subject        string          `json:"sub"`
	LinkedAccounts json.RawMessage `json:"linked_accounts"`
}

// UserFromIdentityToken verifies an identity token and reads the profile
// embedded in it.
func (c *Client) UserFromIdentityToken(ctx context.Context, token string) (*identity.Profile, error) {
	res, err := c.call(ctx, "identity_token", func(ctx context.Context) (any, error) {
		return c.idVerifier.Verify(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("identity token: %w", err)
	}

	var claims identityClaims
	if err := res.(*oidc.IDToken).Claims(&claims); err != nil {
		return nil, fmt.Errorf("identity token claims: %w", err)
	}

	accounts, err := decodeAccounts(claims.LinkedAccounts)
	if err != nil {
		return nil, fmt.Errorf("identity token linked accounts: %w", err)
	}

	return &identity.Profile{ID: claims.Subject, Accounts: accounts}, nil
}

type userResponse struct {
	ID             string          `json:"id"`
	LinkedAccounts json.RawMessage `json:"linked_accounts"`
}

// UserByID fetches a user from the REST API. An unknown id yields (nil, nil).
func (c *Client) UserByID(ctx context.Context, id string) (*identity.Profile, error) {
	res, err := c.call(ctx, "get_user", func(ctx context.Context) (any, error) {
		return c.getUser(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	profile, _ := res.(*identity.Profile)
	return profile, nil
}

func (c *Client) getUser(ctx context.Context, id string) (*identity.Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s", c.apiURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.appID, c.appSecret)
	req.Header.Set(appIDHeader, c.appID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("get user: unexpected status %d", resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("get user: decode: %w", err)
	}

	accounts, err := decodeAccounts(body.LinkedAccounts)
	if err != nil {
		return nil, fmt.Errorf("get user: linked accounts: %w", err)
	}

	return &identity.Profile{ID: body.ID, Accounts: accounts}, nil
}

type linkedAccount struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// decodeAccounts accepts linked accounts either as a JSON array or as a JSON
// string holding that array, the form used inside identity tokens.
func decodeAccounts(raw json.RawMessage) ([]identity.ProviderAccount, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = json.RawMessage(inner)
	}

	var accounts []linkedAccount
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, err
	}

	out := make([]identity.ProviderAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, identity.ProviderAccount{Type: a.Type, Address: a.Address})
	}
	return out, nil
}
