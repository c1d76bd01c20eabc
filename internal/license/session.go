package license

import (
	"errors"
	"sync"
)

// ErrSessionNotFound is returned by GetSession when no session is set
var ErrSessionNotFound = errors.New("session not found")

// SessionCache holds at most one SessionData for the running process.
// It applies no expiry: a session is valid while it is set.
type SessionCache struct {
	mu      sync.RWMutex
	session *SessionData
}

// NewSessionCache creates an empty session cache
func NewSessionCache() *SessionCache {
	return &SessionCache{}
}

// HasValidSession reports whether a session is set
func (c *SessionCache) HasValidSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// GetSession returns a copy of the current session
func (c *SessionCache) GetSession() (SessionData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return SessionData{}, ErrSessionNotFound
	}
	return *c.session, nil
}

// SetSession replaces the current session
func (c *SessionCache) SetSession(s SessionData) {
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
}

// ClearSession removes the current session
func (c *SessionCache) ClearSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}
