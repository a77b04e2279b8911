// Package token issues and verifies the one-time credentials used by the
// account activation, remember-me and password reset flows. Raw tokens are
// handed to the user out-of-band; only bcrypt digests are ever persisted.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// rawBytes gives 256 bits of entropy per token.
const rawBytes = 32

// Pair couples a freshly generated raw token with its digest. Only the
// digest may cross the persistence boundary.
type Pair struct {
	Raw    string
	Digest string
}

// Service generates and verifies tokens. The bcrypt cost is injected so
// test setups can use bcrypt.MinCost without the hashing routine having to
// know anything about environments.
type Service struct {
	cost int
}

// NewService constructs a Service with the given bcrypt cost. Costs outside
// the bcrypt range are clamped to the default.
func NewService(cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{cost: cost}
}

// Generate returns a new URL-safe random token together with its digest.
func (s *Service) Generate() (Pair, error) {
	b := make([]byte, rawBytes)
	if _, err := rand.Read(b); err != nil {
		return Pair{}, fmt.Errorf("token: read random: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(b)
	digest, err := s.Digest(raw)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Raw: raw, Digest: digest}, nil
}

// Digest computes the salted one-way hash of a raw token.
func (s *Service) Digest(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), s.cost)
	if err != nil {
		return "", fmt.Errorf("token: digest: %w", err)
	}
	return string(h), nil
}

// Verify reports whether raw matches digest. A missing digest or any
// mismatch yields false; Verify never fails.
func (s *Service) Verify(raw, digest string) bool {
	if digest == "" || raw == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(raw)) == nil
}

// Cost exposes the configured bcrypt cost, shared with password hashing.
func (s *Service) Cost() int {
	return s.cost
}
