// Package wallet validates and formats EVM wallet addresses.
package wallet

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValid reports whether s is a 0x-prefixed 20-byte hex address in any case.
func IsValid(s string) bool {
	return addressPattern.MatchString(s)
}

// Normalize validates s and returns its lowercase form, the only form stored
// in the users table.
func Normalize(s string) (string, error) {
	if !IsValid(s) {
		return "", common.ErrInvalidWallet
	}
	return strings.ToLower(s), nil
}

// Checksum returns the EIP-55 mixed-case encoding of a valid address.
func Checksum(s string) (string, error) {
	addr, err := Normalize(s)
	if err != nil {
		return "", err
	}

	digits := addr[2:]
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(digits))
	hash := hex.EncodeToString(h.Sum(nil))

	out := []byte(digits)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out), nil
}

// Short renders an address as 0x1234…abcd for logs.
func Short(s string) string {
	if len(s) < 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
