// ABOUTME: Session type and JWT claim parsing for backend access tokens
// ABOUTME: Reads sub/exp with golang-jwt, verifying HS256 when a secret is configured

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession is returned when no signed-in user is available.
	ErrNoSession = errors.New("no auth session")
	// ErrSessionExpired is returned for tokens past their expiry.
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrNoSession)
)

// Session is an authenticated user.
type Session struct {
	AccessToken string
	UserID      string
	ExpiresAt   time.Time // zero when the token carries no exp claim
}

// Expired reports whether the session expired at or before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider returns the current session.
type Provider interface {
	Session(ctx context.Context) (Session, error)
}

// ParseToken extracts a Session from a JWT access token. With a non-empty
// secret the HS256 signature and expiry are verified.
func ParseToken(token string, secret []byte) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrNoSession
	}

	claims := &jwt.RegisteredClaims{}
	if len(secret) > 0 {
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrSessionExpired
		}
		if err != nil {
			return Session{}, fmt.Errorf("verifying token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return Session{}, fmt.Errorf("parsing token: %w", err)
		}
	}

	if claims.Subject == "" {
		return Session{}, fmt.Errorf("parsing token: missing sub claim")
	}

	s := Session{
		AccessToken: token,
		UserID:      claims.Subject,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// IssueToken signs an HS256 access token for userID. Used by the local sqlite
// backend, where this module plays the role of the auth server.
func IssueToken(secret []byte, userID string, expiresIn time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("issuing token: secret required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
