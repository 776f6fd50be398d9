package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

var ErrNoVerifier = errors.New("auth: no verification key configured")

// Verifier validates bearer tokens. HS256 tokens are checked against Secret;
// RS256 tokens are checked against keys from JWKS when it is set.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	return parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			if v.Secret == "" {
				return nil, ErrNoVerifier
			}
			return []byte(v.Secret), nil
		case jwt.SigningMethodRS256.Alg():
			if v.JWKS == nil {
				return nil, ErrNoVerifier
			}
			kid, _ := t.Header["kid"].(string)
			key, err := v.JWKS.Get(ctx, kid)
			if err != nil {
				return nil, err
			}
			return key, nil
		}
		return nil, ErrInvalidToken
	}, jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg())
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok && c != nil
}
