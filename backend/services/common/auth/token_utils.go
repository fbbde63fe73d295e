package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrSecretNotConfigured = errors.New("jwt secret not configured")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrWrongTokenType      = errors.New("invalid token type")
)

// Claims is the access-token payload issued by the auth service.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenValidator verifies HS256 tokens with a secret given at construction.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &TokenValidator{}
	}
	return &TokenValidator{secret: []byte(secret)}
}

// ParseAndValidateToken parses a JWT token string and returns its claims.
// If expectedType is non-empty, the "type" claim must match it.
func (v *TokenValidator) ParseAndValidateToken(tokenStr, expectedType string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrSecretNotConfigured
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if expectedType != "" && claims.Type != expectedType {
		return nil, ErrWrongTokenType
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for tests and internal tooling.
func (v *TokenValidator) Sign(claims *Claims) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrSecretNotConfigured
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
