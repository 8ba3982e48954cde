package oauth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const stateTTL = 10 * time.Minute

type stateClaims struct {
	RedirectURL string `json:"redirect_url"`
	jwt.RegisteredClaims
}

// StateSigner issues the short-lived state parameter of an authorization
// round and verifies it on the way back.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret []byte) *StateSigner {
	return &StateSigner{secret: secret, now: time.Now}
}

// StateSignerFromConfig falls back to a random per-process secret, which
// invalidates in-flight authorizations on restart.
func StateSignerFromConfig(secret string, logger *zap.Logger) (*StateSigner, error) {
	if secret != "" {
		return NewStateSigner([]byte(secret)), nil
	}
	logger.Warn("STATE_SECRET is not set: using a temporary secret for OAuth state")
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return NewStateSigner(b), nil
}

func (s *StateSigner) Sign(redirectURL string) (string, error) {
	now := s.now()
	claims := stateClaims{
		RedirectURL: redirectURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the redirect URL bound into a valid state.
func (s *StateSigner) Verify(state string) (string, error) {
	if state == "" {
		return "", ErrInvalidState
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: expired", ErrInvalidState)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return claims.RedirectURL, nil
}
