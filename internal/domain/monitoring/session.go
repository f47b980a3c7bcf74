package monitoring

import (
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle status of a monitoring session.
type Status string

const (
	// StatusPending - resolved on the server but not started yet.
	StatusPending Status = "pending"
	// StatusActive - frames are being captured.
	StatusActive Status = "active"
	// StatusFinished - the countdown reached zero.
	StatusFinished Status = "finished"
	// StatusCancelled - torn down before the countdown completed.
	StatusCancelled Status = "cancelled"
)

// IsValid checks the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusFinished, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session is the client-side view of one monitoring session, keyed by
// (student, resource). It never holds frame data.
type Session struct {
	ID         shared.SessionID
	StudentID  shared.StudentID
	ResourceID shared.ResourceID
	LessonID   shared.LessonID
	Status     Status
	Duration   time.Duration

	StartedAt time.Time
	EndedAt   time.Time
}

// NewSession creates a pending session for a resolved id.
func NewSession(id shared.SessionID, student shared.StudentID, res Resource) (*Session, error) {
	if id.IsZero() {
		return nil, shared.WrapError("session", "New", shared.ErrInvalidID, "session id is not resolved", nil)
	}
	return &Session{
		ID:         id,
		StudentID:  student,
		ResourceID: res.ID,
		LessonID:   res.LessonID,
		Status:     StatusPending,
	}, nil
}

// Start moves the session to active. Duration must be positive.
func (s *Session) Start(duration time.Duration, now time.Time) error {
	if duration <= 0 {
		return shared.ErrInvalidDuration
	}
	if s.Status != StatusPending {
		return shared.WrapError("session", "Start", shared.ErrStateTransition,
			"cannot start session in status "+string(s.Status), nil)
	}
	s.Status = StatusActive
	s.Duration = duration
	s.StartedAt = now
	return nil
}

// Finish marks the session finished. Finishing a finished session is a no-op.
func (s *Session) Finish(now time.Time) error {
	switch s.Status {
	case StatusFinished:
		return nil
	case StatusActive:
		s.Status = StatusFinished
		s.EndedAt = now
		return nil
	default:
		return shared.WrapError("session", "Finish", shared.ErrStateTransition,
			"cannot finish session in status "+string(s.Status), nil)
	}
}

// Cancel marks a non-terminal session cancelled.
func (s *Session) Cancel(now time.Time) {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = StatusCancelled
	s.EndedAt = now
}

// Elapsed returns how long the session ran.
func (s *Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}
