// Package memory holds in-process stand-ins for the Redis and PostgreSQL
// stores, used when neither is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time // zero means never
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// SessionCache implements monitoring.SessionCache for a single process.
type SessionCache struct {
	mu          sync.RWMutex
	sessions    map[string]entry[shared.SessionID]
	resources   map[shared.ResourceID]entry[monitoring.Resource]
	sessionTTL  time.Duration
	resourceTTL time.Duration
	now         func() time.Time
}

var _ monitoring.SessionCache = (*SessionCache)(nil)

// NewSessionCache creates an empty cache. A zero TTL keeps entries forever.
func NewSessionCache(sessionTTL, resourceTTL time.Duration) *SessionCache {
	return &SessionCache{
		sessions:    make(map[string]entry[shared.SessionID]),
		resources:   make(map[shared.ResourceID]entry[monitoring.Resource]),
		sessionTTL:  sessionTTL,
		resourceTTL: resourceTTL,
		now:         time.Now,
	}
}

func sessionKey(student shared.StudentID, resource shared.ResourceID) string {
	return student.String() + "\x00" + resource.String()
}

func (c *SessionCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func miss() error {
	return shared.NewDomainError("cache", "Get", shared.ErrNotFound, "cache miss")
}

// GetSession implements monitoring.SessionCache.
func (c *SessionCache) GetSession(_ context.Context, student shared.StudentID, resource shared.ResourceID) (shared.SessionID, error) {
	c.mu.RLock()
	e, ok := c.sessions[sessionKey(student, resource)]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		return "", miss()
	}
	return e.value, nil
}

// SetSession implements monitoring.SessionCache.
func (c *SessionCache) SetSession(_ context.Context, student shared.StudentID, resource shared.ResourceID, id shared.SessionID) error {
	if id.IsZero() {
		return shared.NewDomainError("cache", "Set", shared.ErrInvalidInput, "empty session id")
	}
	c.mu.Lock()
	c.sessions[sessionKey(student, resource)] = entry[shared.SessionID]{value: id, expiresAt: c.deadline(c.sessionTTL)}
	c.mu.Unlock()
	return nil
}

// DeleteSession implements monitoring.SessionCache.
func (c *SessionCache) DeleteSession(_ context.Context, student shared.StudentID, resource shared.ResourceID) error {
	c.mu.Lock()
	delete(c.sessions, sessionKey(student, resource))
	c.mu.Unlock()
	return nil
}

// GetResource implements monitoring.SessionCache. It returns a copy.
func (c *SessionCache) GetResource(_ context.Context, id shared.ResourceID) (*monitoring.Resource, error) {
	c.mu.RLock()
	e, ok := c.resources[id]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		return nil, miss()
	}
	res := e.value
	return &res, nil
}

// SetResource implements monitoring.SessionCache.
func (c *SessionCache) SetResource(_ context.Context, res *monitoring.Resource) error {
	if res == nil {
		return shared.NewDomainError("cache", "Set", shared.ErrInvalidInput, "nil resource")
	}
	c.mu.Lock()
	c.resources[res.ID] = entry[monitoring.Resource]{value: *res, expiresAt: c.deadline(c.resourceTTL)}
	c.mu.Unlock()
	return nil
}
