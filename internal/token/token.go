// Package token verifies and issues HS256 bearer tokens.
package token

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

var _ auth.Verifier = (*HMAC)(nil)

// HMAC signs and verifies tokens with a shared secret.
type HMAC struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewHMAC creates an HMAC verifier. An empty issuer disables the iss check.
func NewHMAC(secret []byte, issuer string) *HMAC {
	return &HMAC{secret: secret, issuer: issuer, now: time.Now}
}

// Verify implements auth.Verifier. Any parse or validation failure is
// reported as auth.ErrUnauthenticated.
func (h *HMAC) Verify(_ context.Context, raw string) (*auth.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	}
	if h.issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrapf(auth.ErrUnauthenticated, "invalid token: %v", err)
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(auth.ErrUnauthenticated, "token has no subject")
	}

	return &auth.Identity{
		UserID: claims.Subject,
		Role:   claims.Role,
		Permissions: lo.Map(claims.Permissions, func(p string, _ int) auth.Permission {
			return auth.Permission(p)
		}),
	}, nil
}

// Sign issues a token for id that expires after ttl.
func (h *HMAC) Sign(id auth.Identity, ttl time.Duration) (string, error) {
	now := h.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    h.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: id.Role,
		Permissions: lo.Map(id.Permissions, func(p auth.Permission, _ int) string {
			return string(p)
		}),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
