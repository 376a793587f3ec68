// Package captoken mints and verifies the capability tokens handed to anonymous claimants.
//
// Only the SHA-256 digest of a token is ever persisted, so a lost token cannot be recovered
// or re-displayed.
package captoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// Mint returns a fresh token and its digest.
func Mint() (token, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, Hash(token), nil
}

// Hash returns the hex SHA-256 digest stored for token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether token hashes to hash, in constant time.
func Matches(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	got := Hash(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}
