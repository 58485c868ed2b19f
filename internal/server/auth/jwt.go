package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the signed session payload. Role flags are pointers so a
// token minted before a flag existed is distinguishable from a false value.
type SessionClaims struct {
	jwt.RegisteredClaims
	ExternalIdentityID *string `json:"externalIdentityId,omitempty"`
	WalletAddress      *string `json:"walletAddress,omitempty"`
	Email              *string `json:"email,omitempty"`
	Username           *string `json:"username,omitempty"`
	IsAdmin            *bool   `json:"isAdmin,omitempty"`
	IsSuperAdmin       *bool   `json:"isSuperAdmin,omitempty"`
	IsWhiteListed      *bool   `json:"isWhiteListed,omitempty"`
	IsHidden           *bool   `json:"isHidden,omitempty"`
	NeedsSecondaryLink bool    `json:"needsSecondaryLink"`
	// LastRefresh is unix milliseconds.
	LastRefresh int64 `json:"lastRefresh"`
}

// UserID returns the subject.
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// SignSession signs claims with HS256, stamping iat and exp.
func SignSession(claims SessionClaims, secretKey []byte, maxAge time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(maxAge))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}

	return tokenString, nil
}

func ParseSession(tokenString string, secretKey []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
