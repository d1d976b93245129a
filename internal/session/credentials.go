package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the bearer/refresh token pair of a signed-in user.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no access token is held.
func (c Credentials) Empty() bool {
	return c.AccessToken == ""
}

// Claims returns the claims of the access token. The signature is not
// checked; the server remains the authority on validity.
func (c Credentials) Claims() (jwt.MapClaims, bool) {
	if c.AccessToken == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// UserID returns the user id carried by the access token, from the
// user_id claim or else the subject.
func (c Credentials) UserID() string {
	claims, ok := c.Claims()
	if !ok {
		return ""
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id
	}
	sub, _ := claims.GetSubject()
	return sub
}

// ExpiresAt returns the expiry of the access token, if it has one.
func (c Credentials) ExpiresAt() (time.Time, bool) {
	claims, ok := c.Claims()
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Store keeps the credentials of the current session.
type Store interface {
	Load() Credentials
	Save(Credentials)
	Clear()
}

// MemoryStore is a Store that lives for the process only.
type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewMemoryStore returns a store seeded with creds.
func NewMemoryStore(creds Credentials) *MemoryStore {
	return &MemoryStore{creds: creds}
}

func (s *MemoryStore) Load() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *MemoryStore) Save(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
}
