// Package session holds server-side browser sessions in memory.
// The table is intentionally volatile: restarting the daemon logs
// everyone out, which is acceptable for a single-admin deployment.
package session

import (
	"sync"
	"time"

	"github.com/miikkis-gh/glassfile/internal/auth"
)

// Store is a mutex-guarded session table keyed by opaque token.
type Store struct {
	lifetime time.Duration
	now      func() time.Time

	mu      sync.Mutex
	created map[string]time.Time
}

// NewStore builds an empty store whose sessions expire lifetime after
// issuance. Expiry is absolute, not sliding.
func NewStore(lifetime time.Duration) *Store {
	return &Store{
		lifetime: lifetime,
		now:      time.Now,
		created:  make(map[string]time.Time),
	}
}

// Issue creates a fresh session and returns its token. The caller is
// expected to revoke any token the same browser presented before, so a
// login always rotates the identifier.
func (s *Store) Issue() (string, error) {
	tok, err := auth.NewToken(32)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.created[tok] = s.now()
	s.mu.Unlock()
	return tok, nil
}

// Validate reports whether tok names a live session. Expired entries are
// removed on sight, so an expired cookie behaves exactly like no cookie.
func (s *Store) Validate(tok string) bool {
	if tok == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.created[tok]
	if !ok {
		return false
	}
	if s.now().Sub(at) > s.lifetime {
		delete(s.created, tok)
		return false
	}
	return true
}

// Revoke removes tok. Revoking an unknown token is a no-op so logout
// always succeeds.
func (s *Store) Revoke(tok string) {
	s.mu.Lock()
	delete(s.created, tok)
	s.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for tok, at := range s.created {
		if now.Sub(at) > s.lifetime {
			delete(s.created, tok)
			n++
		}
	}
	return n
}

// Len returns the number of live or not-yet-swept sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}
