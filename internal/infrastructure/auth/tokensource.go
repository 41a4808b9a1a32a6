package auth

import (
	"context"
	"sync"
	"time"

	"github.com/orris-inc/adfree/internal/shared/biztime"
)

// TokenSource supplies the bearer token of the current session
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// refreshThreshold is how long before expiry a cached token is replaced
const refreshThreshold = time.Minute

// JWTTokenSource mints tokens for one user and reuses them until they are
// about to expire
type JWTTokenSource struct {
	jwt    *JWTService
	userID string
	clock  biztime.Clock

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewJWTTokenSource(jwt *JWTService, userID string) *JWTTokenSource {
	return &JWTTokenSource{jwt: jwt, userID: userID, clock: jwt.clock}
}

func (s *JWTTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.clock.Now().Add(refreshThreshold).Before(s.expiry) {
		return s.token, nil
	}

	token, exp, err := s.jwt.Generate(s.userID)
	if err != nil {
		return "", err
	}
	s.token, s.expiry = token, exp
	return token, nil
}
