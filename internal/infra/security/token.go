package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// sessionIDBytes yields 256 bits of entropy, comfortably above the 128-bit
// floor required for unguessable session identifiers.
const sessionIDBytes = 32

// GenerateSessionID returns an opaque, unguessable session identifier.
func GenerateSessionID() (string, error) {
	return GenerateSecureToken(sessionIDBytes)
}

// GenerateSecureToken returns a base64 URL-safe random string using the
// specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value. Used when a
// session id must appear in a log or cache key without exposing the raw value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
