package remote

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = time.Minute

// ServiceTokens signs short-lived HS256 tokens for outbound calls.
type ServiceTokens struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// NewServiceTokens returns nil when secret is empty so callers can skip auth.
func NewServiceTokens(secret string) *ServiceTokens {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &ServiceTokens{Secret: []byte(secret), Issuer: "upkeep-orchestrator", TTL: defaultTokenTTL}
}

// Sign issues a token whose audience is the target service.
func (s *ServiceTokens) Sign(audience string) (string, error) {
	if s == nil || len(s.Secret) == 0 {
		return "", errors.New("service token secret not configured")
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   s.Issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}
