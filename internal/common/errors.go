// Package common defines shared constants and sentinel errors used across
// the identity service layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Credential verification failed: provider error, unknown user or a
	// credential shape that is not allowed in the current environment.
	ErrVerificationFailed = errors.New("verification failed")

	// Session token errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Wallet linking errors.
	ErrInvalidWallet  = errors.New("invalid wallet address")
	ErrWalletConflict = errors.New("wallet already linked to another account")

	// Merge errors. The messages are surfaced to API clients as is.
	ErrMergeUserNotFound = errors.New("User not found")
	ErrMergeFailed       = errors.New("Merge failed")
)
