package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// RegistryConfig contains the dependencies of a Registry.
type RegistryConfig struct {
	Student   shared.StudentID
	Resources monitoring.ResourceGateway
	Sessions  monitoring.SessionGateway
	Cache     monitoring.SessionCache

	// ResolveTimeout bounds one shared resolution. It is detached from the
	// caller that started it. Default 30s.
	ResolveTimeout time.Duration

	Logger *slog.Logger
}

// Registry resolves the monitoring session of (student, resource) and caches
// resource metadata. Concurrent resolutions of the same resource share one
// backend round trip.
type Registry struct {
	student   shared.StudentID
	resources monitoring.ResourceGateway
	sessions  monitoring.SessionGateway
	cache     monitoring.SessionCache
	timeout   time.Duration
	logger    *slog.Logger
	group     singleflight.Group
}

// NewRegistry creates a Registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 30 * time.Second
	}
	return &Registry{
		student:   config.Student,
		resources: config.Resources,
		sessions:  config.Sessions,
		cache:     config.Cache,
		timeout:   config.ResolveTimeout,
		logger:    config.Logger.With(logger.Component("registry")),
	}
}

// Student returns the student the registry resolves sessions for.
func (r *Registry) Student() shared.StudentID {
	return r.student
}

// Resource returns resource metadata, from the cache when possible.
func (r *Registry) Resource(ctx context.Context, id shared.ResourceID) (*monitoring.Resource, error) {
	if !id.IsValid() {
		return nil, shared.ErrResourceFetch.Wrap(shared.ErrInvalidID)
	}
	if r.cache != nil {
		if res, err := r.cache.GetResource(ctx, id); err == nil {
			return res, nil
		} else if !shared.IsNotFound(err) {
			r.logger.Warn("resource cache read failed", logger.ResourceID(id.String()), logger.Err(err))
		}
	}

	res, err := r.resources.GetResource(ctx, id)
	if err != nil {
		return nil, shared.ErrResourceFetch.Wrap(err)
	}
	if r.cache != nil {
		if err := r.cache.SetResource(ctx, res); err != nil {
			r.logger.Warn("resource cache write failed", logger.ResourceID(id.String()), logger.Err(err))
		}
	}
	return res, nil
}

// ResolveOrCreate returns the session of the current student for resource,
// creating it on the backend when none exists. Repeated calls return the same id.
// On failure the returned id is empty and the error matches shared.ErrSessionResolution.
//
// Concurrent callers share one resolution. Each caller stops waiting when its
// own ctx ends; the shared resolution keeps going for the others.
func (r *Registry) ResolveOrCreate(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error) {
	if !resource.IsValid() {
		return "", shared.ErrSessionResolution.Wrap(shared.ErrInvalidID)
	}
	if r.cache != nil {
		if id, err := r.cache.GetSession(ctx, r.student, resource); err == nil && !id.IsZero() {
			return id, nil
		}
	}

	ch := r.group.DoChan(resource.String(), func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(sctx, resource)
	})

	select {
	case <-ctx.Done():
		return "", shared.ErrSessionResolution.Wrap(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", shared.ErrSessionResolution.Wrap(res.Err)
		}
		id := res.Val.(shared.SessionID)
		r.logger.Debug("session resolved",
			logger.ResourceID(resource.String()),
			logger.SessionID(id.String()),
			slog.Bool("joined", res.Shared),
		)
		return id, nil
	}
}

func (r *Registry) resolve(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error) {
	id, err := r.sessions.FindSession(ctx, resource)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return "", err
	}
	if id.IsZero() {
		id, err = r.sessions.CreateSession(ctx, resource)
		if err != nil {
			return "", err
		}
	}
	if id.IsZero() {
		return "", shared.ErrInvalidPayload.Wrap(errors.New("backend returned an empty session id"))
	}

	if r.cache != nil {
		if err := r.cache.SetSession(ctx, r.student, resource, id); err != nil {
			r.logger.Warn("session cache write failed", logger.ResourceID(resource.String()), logger.Err(err))
		}
	}
	return id, nil
}

// Invalidate forgets the cached session of resource, for instance after the
// backend rejected it.
func (r *Registry) Invalidate(ctx context.Context, resource shared.ResourceID) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.DeleteSession(ctx, r.student, resource)
}
