package identity

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/logging"
)

// Verifier resolves raw credentials against a Provider.
type Verifier struct {
	provider      Provider
	allowDirectID bool
	logger        logging.Logger
}

// NewVerifier builds a Verifier. Direct provider ids are accepted only when
// production is false.
func NewVerifier(p Provider, production bool, l logging.Logger) *Verifier {
	return &Verifier{
		provider:      p,
		allowDirectID: !production,
		logger:        l.With("module", "verifier"),
	}
}

// Verify classifies raw and verifies it. Every failure, including a
// credential shape that is not allowed here, is reported as
// common.ErrVerificationFailed.
func (v *Verifier) Verify(ctx context.Context, raw string) (*VerifiedIdentity, error) {
	profile, err := v.fetch(ctx, ParseCredential(raw))
	if err != nil {
		v.logger.Warn(ctx, "credential verification failed", "error", err.Error())
		return nil, fmt.Errorf("%w: %v", common.ErrVerificationFailed, err)
	}
	if profile == nil || profile.ID == "" {
		v.logger.Warn(ctx, "provider returned no user")
		return nil, common.ErrVerificationFailed
	}
	return Normalize(profile), nil
}

func (v *Verifier) fetch(ctx context.Context, c Credential) (*Profile, error) {
	switch c := c.(type) {
	case DirectID:
		if !v.allowDirectID {
			return nil, fmt.Errorf("direct provider ids are disabled in production")
		}
		if c.ID == "" {
			return nil, fmt.Errorf("empty provider id")
		}
		return v.provider.UserByID(ctx, c.ID)

	case IdentityToken:
		if c.Token == "" {
			return nil, fmt.Errorf("empty identity token")
		}
		return v.provider.UserFromIdentityToken(ctx, c.Token)

	case BearerToken:
		if c.Token == "" {
			return nil, fmt.Errorf("empty access token")
		}
		subject, err := v.provider.VerifyAccessToken(ctx, c.Token)
		if err != nil {
			return nil, err
		}
		if subject == "" {
			return nil, fmt.Errorf("access token without subject")
		}
		return v.provider.UserByID(ctx, subject)

	default:
		return nil, fmt.Errorf("unsupported credential %T", c)
	}
}
