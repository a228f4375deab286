// Package security generates and compares short-lived secrets such as pickup
// tokens.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// tokenCharset omits characters that are easy to misread when a token is
// typed in by hand.
var tokenCharset = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

const PickupTokenLength = 12

// GenerateToken returns a random token of length characters drawn uniformly
// from the token charset.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	max := big.NewInt(int64(len(tokenCharset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		out[i] = tokenCharset[n.Int64()]
	}
	return string(out), nil
}

// NewPickupToken returns a token for handing an order to a delivery partner.
func NewPickupToken() (string, error) {
	return GenerateToken(PickupTokenLength)
}

// TokensEqual compares two tokens in constant time. Empty tokens never match.
func TokensEqual(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
