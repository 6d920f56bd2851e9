// Package auth signs the short-lived tokens that address a workspace's
// preview on the sandboxed preview origin.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer   = "instantpreview"
	Audience = "preview"
)

// ErrInvalidToken is returned for tokens that fail signature, issuer,
// audience or expiry checks.
var ErrInvalidToken = errors.New("invalid preview token")

// PreviewClaims identify the workspace and the document a token was issued for.
type PreviewClaims struct {
	Workspace   string `json:"ws"`
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// PreviewTokens issues and verifies HS256 preview tokens.
type PreviewTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewPreviewTokens creates a token signer. An empty secret is replaced with
// 32 random bytes, so tokens do not survive a restart.
func NewPreviewTokens(secret string, ttl time.Duration) (*PreviewTokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate preview secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PreviewTokens{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the token lifetime.
func (p *PreviewTokens) TTL() time.Duration { return p.ttl }

// Issue signs a token for workspace. fingerprint is informational and lets
// the preview origin tell which run the link was created for.
func (p *PreviewTokens) Issue(workspace, fingerprint string) (string, time.Time, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	claims := &PreviewClaims{
		Workspace:   workspace,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign preview token: %w", err)
	}
	return token, exp, nil
}

// Verify checks a token and returns its claims.
func (p *PreviewTokens) Verify(tokenStr string) (*PreviewClaims, error) {
	claims := &PreviewClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			return p.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Workspace == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
