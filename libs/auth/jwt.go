package auth

import (
	"crypto"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

type Claims struct {
	Role string `json:"role"`
	// Lang is the user's preferred language for notification texts.
	Lang string `json:"lang,omitempty"`
	jwt.RegisteredClaims
}

func NewClaims(sub, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// IsStaff reports whether the caller may perform back-office operations.
func (c Claims) IsStaff() bool {
	return c.Role == RoleStaff || c.Role == RoleAdmin
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, func(*jwt.Token) (any, error) { return []byte(secret), nil }, jwt.SigningMethodHS256.Alg())
}

func VerifyRS256(token string, pubKey crypto.PublicKey) (*Claims, error) {
	return parse(token, func(*jwt.Token) (any, error) { return pubKey, nil }, jwt.SigningMethodRS256.Alg())
}

func parse(token string, keyFunc jwt.Keyfunc, algs ...string) (*Claims, error) {
	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, keyFunc, jwt.WithValidMethods(algs)); err != nil {
		if errors.Is(err, ErrNoVerifier) {
			return nil, ErrNoVerifier
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
