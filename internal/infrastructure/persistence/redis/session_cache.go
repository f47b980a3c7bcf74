package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// SessionCache implements monitoring.SessionCache on top of Cache.
// Every key carries an account namespace derived from the backend URL and
// token, so the token itself never reaches Redis.
type SessionCache struct {
	cache       *Cache
	namespace   string
	resourceTTL time.Duration
}

var _ monitoring.SessionCache = (*SessionCache)(nil)

// NewSessionCache creates a cache scoped to one backend account.
func NewSessionCache(cache *Cache, baseURL, token string, resourceTTL time.Duration) *SessionCache {
	if resourceTTL <= 0 {
		resourceTTL = TTLResource
	}
	return &SessionCache{
		cache:       cache,
		namespace:   AccountNamespace(baseURL, token),
		resourceTTL: resourceTTL,
	}
}

// AccountNamespace fingerprints an account with a 64-bit BLAKE2b hash.
func AccountNamespace(baseURL, token string) string {
	h, _ := blake2b.New(8, nil) // size 8 with no key never fails
	h.Write([]byte(baseURL))
	h.Write([]byte{0})
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *SessionCache) sessionKey(student shared.StudentID, resource shared.ResourceID) string {
	return s.namespace + ":" + PrefixSession + student.String() + ":" + resource.String()
}

func (s *SessionCache) resourceKey(id shared.ResourceID) string {
	return s.namespace + ":" + PrefixResource + id.String()
}

// GetSession returns a cached session id.
func (s *SessionCache) GetSession(ctx context.Context, student shared.StudentID, resource shared.ResourceID) (shared.SessionID, error) {
	var id string
	if err := s.cache.Get(ctx, s.sessionKey(student, resource), &id); err != nil {
		return "", missOr(err)
	}
	return shared.SessionID(id), nil
}

// SetSession caches a resolved session id.
func (s *SessionCache) SetSession(ctx context.Context, student shared.StudentID, resource shared.ResourceID, id shared.SessionID) error {
	if id.IsZero() {
		return ErrCacheNilValue
	}
	return s.cache.Set(ctx, s.sessionKey(student, resource), id.String(), TTLSession)
}

// DeleteSession forgets a session id.
func (s *SessionCache) DeleteSession(ctx context.Context, student shared.StudentID, resource shared.ResourceID) error {
	return s.cache.Delete(ctx, s.sessionKey(student, resource))
}

// cachedResource is the stored shape of a resource.
type cachedResource struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	LessonID         string `json:"lesson_id"`
	AllowsMonitoring bool   `json:"allows_monitoring"`
	Evaluable        bool   `json:"evaluable"`
	DurationSeconds  int64  `json:"duration_seconds"`
}

// GetResource returns cached resource metadata.
func (s *SessionCache) GetResource(ctx context.Context, id shared.ResourceID) (*monitoring.Resource, error) {
	var c cachedResource
	if err := s.cache.Get(ctx, s.resourceKey(id), &c); err != nil {
		return nil, missOr(err)
	}
	return &monitoring.Resource{
		ID:               shared.ResourceID(c.ID),
		Name:             c.Name,
		Kind:             monitoring.ResourceKind(c.Kind),
		LessonID:         shared.LessonID(c.LessonID),
		AllowsMonitoring: c.AllowsMonitoring,
		Evaluable:        c.Evaluable,
		Duration:         time.Duration(c.DurationSeconds) * time.Second,
	}, nil
}

// SetResource caches resource metadata.
func (s *SessionCache) SetResource(ctx context.Context, res *monitoring.Resource) error {
	if res == nil {
		return ErrCacheNilValue
	}
	return s.cache.Set(ctx, s.resourceKey(res.ID), cachedResource{
		ID:               res.ID.String(),
		Name:             res.Name,
		Kind:             string(res.Kind),
		LessonID:         res.LessonID.String(),
		AllowsMonitoring: res.AllowsMonitoring,
		Evaluable:        res.Evaluable,
		DurationSeconds:  int64(res.Duration / time.Second),
	}, s.resourceTTL)
}

// InvalidateAll drops every entry of this account.
func (s *SessionCache) InvalidateAll(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, s.namespace+":*")
}

func missOr(err error) error {
	if errors.Is(err, ErrCacheMiss) {
		return shared.WrapError("cache", "Get", shared.ErrNotFound, "cache miss", err)
	}
	return err
}
