package monitoring

import (
	"context"
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY INTERFACES
// These interfaces describe the backend and local storage the orchestrator
// depends on. Implementations live in infrastructure.
// ══════════════════════════════════════════════════════════════════════════════

// ResourceGateway loads resource metadata.
type ResourceGateway interface {
	// GetResource returns the resource or an error wrapping shared.ErrNotFound.
	GetResource(ctx context.Context, id shared.ResourceID) (*Resource, error)
}

// SessionGateway resolves and drives monitoring sessions on the backend.
type SessionGateway interface {
	// FindSession returns the existing session id for the current student,
	// or zero when none exists yet.
	FindSession(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error)

	// CreateSession is a get-or-create: calling it twice yields the same id.
	CreateSession(ctx context.Context, resource shared.ResourceID) (shared.SessionID, error)

	// StartMonitoring declares the monitoring window of a session.
	StartMonitoring(ctx context.Context, session shared.SessionID, duration time.Duration) error

	// FinishMonitoring records the end of the monitoring window.
	FinishMonitoring(ctx context.Context, session shared.SessionID, elapsed time.Duration) error
}

// FrameSink receives encoded frames. Implementations must be safe for
// concurrent use because dispatches overlap.
type FrameSink interface {
	// SendFrame posts one data URL and returns the live readout.
	// A frame without a detectable face returns shared.ErrNoFaceDetected.
	SendFrame(ctx context.Context, session shared.SessionID, dataURL string) (*Readout, error)
}

// ScoreGateway fetches grades and recommendations.
type ScoreGateway interface {
	CombinedScore(ctx context.Context, student shared.StudentID, resource shared.ResourceID) (CombinedScore, error)
	Recommend(ctx context.Context, req RecommendationRequest) (*Recommendation, error)
}

// RecommendationRequest is what the generator needs for a finished lesson.
type RecommendationRequest struct {
	StudentID shared.StudentID
	LessonID  shared.LessonID
	Attention shared.Score
	Academic  shared.Score
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SessionCache remembers resolved sessions and resource metadata between runs.
// Misses return an error wrapping shared.ErrNotFound.
type SessionCache interface {
	GetSession(ctx context.Context, student shared.StudentID, resource shared.ResourceID) (shared.SessionID, error)
	SetSession(ctx context.Context, student shared.StudentID, resource shared.ResourceID, id shared.SessionID) error
	DeleteSession(ctx context.Context, student shared.StudentID, resource shared.ResourceID) error

	GetResource(ctx context.Context, id shared.ResourceID) (*Resource, error)
	SetResource(ctx context.Context, res *Resource) error
}

// ══════════════════════════════════════════════════════════════════════════════
// JOURNAL
// ══════════════════════════════════════════════════════════════════════════════

// JournalEntry is the local record of one monitoring run. It never holds frames.
type JournalEntry struct {
	ID            string
	StudentID     shared.StudentID
	ResourceID    shared.ResourceID
	SessionID     shared.SessionID
	Status        Status
	Duration      time.Duration
	StartedAt     time.Time
	EndedAt       time.Time
	FramesSent    int64
	FramesFailed  int64
	FramesSkipped int64
	Combined      *int
	Message       string
}

// JournalRepository stores journal entries.
type JournalRepository interface {
	Save(ctx context.Context, entry *JournalEntry) error
	ListByStudent(ctx context.Context, student shared.StudentID, limit int) ([]*JournalEntry, error)
}
