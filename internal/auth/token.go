// Package auth verifies callers: static and managed API keys, and HS256
// service tokens for internal callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// TokenIssuer is the iss claim of every service token.
const TokenIssuer = "xcheck"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrMissingClaims = errors.New("missing required claims")
	ErrNoSecret      = errors.New("token secret not configured")
)

// ServiceClaims are the claims of a service token.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// TokenVerifier issues and verifies HS256 service tokens.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for secret. An empty secret disables
// token auth; Verify then always fails.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret is configured.
func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Issue signs a token for subject valid for ttl.
func (v *TokenVerifier) Issue(subject, scope string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	if subject == "" {
		return "", ErrMissingClaims
	}
	now := v.now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    TokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns its claims.
func (v *TokenVerifier) Verify(tokenString string) (*ServiceClaims, error) {
	if !v.Enabled() {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for verified service claims.
	ClaimsKey ContextKey = "service_claims"
)

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *ServiceClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaimsFromContext retrieves service claims from context.
func GetClaimsFromContext(ctx context.Context) *ServiceClaims {
	claims, ok := ctx.Value(ClaimsKey).(*ServiceClaims)
	if !ok {
		return nil
	}
	return claims
}
