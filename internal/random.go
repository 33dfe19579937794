// Package internal holds token generation helpers shared by the engine and
// its stores.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const opaqueTokenBytes = 32

// NewOpaqueToken returns a 32-byte random secret, base64url-encoded without
// padding. Used for session tokens and reset/verification tokens.
func NewOpaqueToken() (string, error) {
	raw := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken is the at-rest form of single-use tokens. Plaintext token values
// are never persisted.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// EncodeHash renders a token hash as a compact string key.
func EncodeHash(h [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(h[:])
}
