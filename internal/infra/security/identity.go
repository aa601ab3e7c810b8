package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidIdentityToken indicates the token is malformed or its signature failed.
	ErrInvalidIdentityToken = errors.New("invalid identity token")
	// ErrExpiredIdentityToken indicates the token has expired.
	ErrExpiredIdentityToken = errors.New("identity token expired")
)

// PrincipalClaims carries the identity-provider assertion. Only the stable id
// is trusted; the engine re-derives every permission from stored grants and
// ignores any role the client asserts.
type PrincipalClaims struct {
	PrincipalID string `json:"pid"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityVerifier validates identity-provider tokens on the caller surface.
type IdentityVerifier struct {
	secret []byte
	issuer string
}

// NewIdentityVerifier constructs a verifier for the shared-secret scheme used
// by the identity provider.
func NewIdentityVerifier(secret, issuer string) (*IdentityVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("identity secret is required")
	}
	return &IdentityVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses and validates the token, returning the embedded claims.
func (v *IdentityVerifier) Verify(token string) (*PrincipalClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidIdentityToken
	}

	claims := &PrincipalClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredIdentityToken
		}
		return nil, ErrInvalidIdentityToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidIdentityToken
	}
	if strings.TrimSpace(claims.PrincipalID) == "" {
		return nil, ErrInvalidIdentityToken
	}

	return claims, nil
}
