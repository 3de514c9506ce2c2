package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims are the parts of a provider access token the console reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ParseAccessToken verifies an HS256 access token signed with secret and
// returns its claims. Expiry is checked against now.
func ParseAccessToken(secret, token string, now time.Time) (*Claims, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(now) {
		return nil, fmt.Errorf("access token expired")
	}

	return claims, nil
}
