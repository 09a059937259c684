// Package auth issues and verifies the HS256 bearer tokens that guard the
// admin API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrForbidden    = errors.New("token lacks admin role")
	ErrNoSecret     = errors.New("admin secret not configured")
)

const (
	// Issuer is stamped into every token
	Issuer = "video-pipeline"
	// RoleAdmin is the only role the admin API accepts
	RoleAdmin = "admin"

	clockSkew = 30 * time.Second
)

// Claims are the registered claims plus a role
type Claims struct {
	jwt.Claims
	Role string `json:"role"`
}

// Authority signs and verifies tokens with a shared secret
type Authority struct {
	secret []byte
	now    func() time.Time
}

// NewAuthority creates an authority for the given secret
func NewAuthority(secret string) *Authority {
	return &Authority{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for subject with the given role
func (a *Authority) Issue(subject, role string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: a.secret},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	now := a.now()
	claims := Claims{
		Claims: jwt.Claims{
			Subject:  subject,
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize token: %w", err)
	}
	return token, nil
}

// Verify checks the signature, issuer and expiry and requires the admin role
func (a *Authority) Verify(token string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrNoSecret
	}
	if token == "" {
		return nil, ErrInvalidToken
	}

	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{}
	if err := tok.Claims(a.secret, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	err = claims.ValidateWithLeeway(jwt.Expected{Issuer: Issuer, Time: a.now()}, clockSkew)
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	return claims, nil
}
