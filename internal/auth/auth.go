// Package auth hashes panel passwords and tracks logged-in API sessions.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SessionDuration is the absolute lifetime of a login.
	SessionDuration = 8 * time.Hour
	// IdleTimeout ends a login that has not been used for this long.
	IdleTimeout   = 2 * time.Hour
	SessionCookie = "sshpanel_session"
	BcryptCost    = 12
	// MinPasswordLength applies to panel accounts, not SSH credentials.
	MinPasswordLength = 6
)

// HashPassword returns the bcrypt hash of password. Passwords over 72 bytes
// are rejected by bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type login struct {
	userID   uint
	issued   time.Time
	lastSeen time.Time
}

// SessionStore keeps API logins in memory, keyed by an opaque token. A
// login expires IdleTimeout after its last use and SessionDuration after it
// was issued, whichever comes first. Logins do not survive a restart.
type SessionStore struct {
	mu     sync.Mutex
	logins map[string]*login
	now    func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{logins: make(map[string]*login), now: time.Now}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (l *login) expired(now time.Time) bool {
	return now.Sub(l.issued) > SessionDuration || now.Sub(l.lastSeen) > IdleTimeout
}

// Create issues a token for userID.
func (s *SessionStore) Create(userID uint) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	s.mu.Lock()
	s.logins[token] = &login{userID: userID, issued: now, lastSeen: now}
	s.mu.Unlock()
	return token, nil
}

// Get resolves token to its user and marks the login as used.
func (s *SessionStore) Get(token string) (uint, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logins[token]
	if !ok {
		return 0, false
	}
	if l.expired(now) {
		delete(s.logins, token)
		return 0, false
	}
	l.lastSeen = now
	return l.userID, true
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.logins, token)
	s.mu.Unlock()
}

// DeleteByUserID logs a user out everywhere, e.g. after suspension or a
// password reset.
func (s *SessionStore) DeleteByUserID(userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, l := range s.logins {
		if l.userID == userID {
			delete(s.logins, token)
		}
	}
}

// Cleanup drops expired logins and returns how many were removed.
func (s *SessionStore) Cleanup() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, l := range s.logins {
		if l.expired(now) {
			delete(s.logins, token)
			removed++
		}
	}
	return removed
}

// Active reports how many unexpired logins exist.
func (s *SessionStore) Active() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logins {
		if !l.expired(now) {
			n++
		}
	}
	return n
}
