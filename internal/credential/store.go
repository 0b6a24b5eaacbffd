// Package credential holds the single live credential of the process.
package credential

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the rotating bearer credential. AccessToken is empty until
// the first successful refresh; RefreshToken is always set.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ValidityHint time.Duration
	RefreshedAt  time.Time
}

// HasAccessToken reports whether an access token has been obtained.
func (c Credential) HasAccessToken() bool {
	return c.AccessToken != ""
}

// Persister saves the credential after each mutation. The file-backed
// configuration implements it; the environment variant passes nil.
type Persister interface {
	SaveCredential(accessToken, refreshToken string) error
}

// Store guards the credential with a reader/writer lock. Every mutation
// replaces the whole record while holding the write lock.
type Store struct {
	mu        sync.RWMutex
	cred      Credential
	persister Persister
}

// NewStore creates a store seeded with a bootstrap credential.
func NewStore(initial Credential, p Persister) *Store {
	return &Store{cred: initial, persister: p}
}

// Snapshot returns a copy of the current credential.
func (s *Store) Snapshot() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Replace installs a freshly issued access/refresh token pair. When a
// persister is configured the record is saved before the lock is released.
// A save error is returned, but the in-memory record has already changed.
func (s *Store) Replace(accessToken, refreshToken string, validity time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ValidityHint: validity,
		RefreshedAt:  time.Now(),
	}
	return s.persistLocked()
}

// SetRefreshToken swaps in an operator-supplied refresh token, keeping the
// current access token until the next refresh.
func (s *Store) SetRefreshToken(refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cred
	next.RefreshToken = refreshToken
	s.cred = next
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveCredential(s.cred.AccessToken, s.cred.RefreshToken); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// ExpiresAt reads the exp claim of a JWT access token without verifying its
// signature. It is informational only: staleness is detected by the remote
// rejecting a request, never by this value.
func ExpiresAt(accessToken string) (time.Time, bool) {
	if accessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
