// Package auth implements the backend.Auth capability for a self-hosted
// deployment: bcrypt password hashes, HS256 JWT access tokens, GitHub OAuth
// and single-use password reset tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/flipbook/internal/clock"
)

const issuer = "flipbook"

// Token purposes. A token is only accepted for the purpose it was issued for.
const (
	PurposeSession       = "session"
	PurposePasswordReset = "password_reset"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// TokenService issues and validates signed tokens.
type TokenService struct {
	secret []byte
	clock  clock.Clock
}

// NewTokenService requires a secret of at least 16 characters.
func NewTokenService(secret string, c clock.Clock) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), clock: clock.OrReal(c)}, nil
}

type claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Claims is the validated content of a token.
type Claims struct {
	TokenID   string
	UserID    string
	Purpose   string
	ExpiresAt time.Time
}

// Issue signs a token for userID valid for ttl.
func (s *TokenService) Issue(userID, purpose string, ttl time.Duration) (string, Claims, error) {
	now := s.clock.Now()
	c := claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, Claims{
		TokenID:   c.ID,
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Validate checks signature, issuer, expiry and purpose.
func (s *TokenService) Validate(tokenStr, purpose string) (Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return Claims{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	if c.Purpose != purpose {
		return Claims{}, fmt.Errorf("%w: issued for %q", ErrInvalidToken, c.Purpose)
	}
	return Claims{
		TokenID:   c.ID,
		UserID:    c.Subject,
		Purpose:   c.Purpose,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
