package client

import (
	"sync"
	"time"
)

// Session holds the backend session token. The zero value is an empty
// (unauthenticated) session and is safe for concurrent use.
type Session struct {
	mu            sync.RWMutex
	cookieName    string
	token         string
	establishedAt time.Time
}

// Token returns the cookie name and token of the current session. ok is
// false when no session is active.
func (s *Session) Token() (name, token string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookieName, s.token, s.token != ""
}

// Active reports whether a token is held.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// EstablishedAt returns when the current session was created, or the zero
// time if there is none.
func (s *Session) EstablishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.establishedAt
}

func (s *Session) set(cookieName, token string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookieName = cookieName
	s.token = token
	s.establishedAt = at
}

// invalidate clears the session only if it still holds token, so a caller
// holding a stale token cannot wipe a session another caller just created.
// It reports whether the session was cleared.
func (s *Session) invalidate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.token != token {
		return false
	}
	s.cookieName = ""
	s.token = ""
	s.establishedAt = time.Time{}
	return true
}

// clear drops the session unconditionally.
func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookieName = ""
	s.token = ""
	s.establishedAt = time.Time{}
}
