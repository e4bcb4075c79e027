// Package session holds the operator's upstream credential. The console never
// signs tokens itself; it stores the bearer token issued by the backend at
// login and introspects its expiry so expired sessions prompt re-auth instead
// of repeating the same 401.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store is the process-wide credential state. Written at login/logout, read
// by every outbound request. A generation counter lets in-flight requests
// detect invalidation: a 401 observed by a request from generation N must not
// clobber a credential from a later login.
type Store struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	gen       uint64
}

// NewStore creates an empty, signed-out store.
func NewStore() *Store { return &Store{} }

// Set installs a new bearer token and bumps the generation. The expiry claim
// is read without signature verification; the console does not hold the
// backend's signing key and only uses the claim as a hint.
func (s *Store) Set(token string) {
	var exp time.Time
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if t, err := claims.GetExpirationTime(); err == nil && t != nil {
			exp = t.Time
		}
	}

	s.mu.Lock()
	s.token = token
	s.expiresAt = exp
	s.gen++
	s.mu.Unlock()
}

// Clear signs the operator out.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.gen++
	s.mu.Unlock()
}

// Token returns the current credential and its generation. ok is false when
// signed out.
func (s *Store) Token() (token string, gen uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.gen, s.token != ""
}

// Valid reports whether a credential is present and not past its expiry hint.
func (s *Store) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	return s.expiresAt.IsZero() || time.Now().Before(s.expiresAt)
}

// ExpiresAt returns the expiry hint, zero when unknown.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Invalidate clears the credential only if gen still identifies the current
// one. Called when an in-flight request comes back 401.
func (s *Store) Invalidate(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.token == "" {
		return
	}
	s.token = ""
	s.expiresAt = time.Time{}
	s.gen++
}
