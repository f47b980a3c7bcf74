// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Backend primary keys are opaque strings (UUIDs on the reference platform).
// Their format is checked at the API boundary, not here.

// StudentID identifies the authenticated student on the learning platform.
type StudentID string

// IsValid checks the ID is present.
func (s StudentID) IsValid() bool {
	return s != ""
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// ResourceID identifies a learning resource (video, document, quiz).
type ResourceID string

// IsValid checks the ID is present.
func (r ResourceID) IsValid() bool {
	return r != ""
}

// String returns the string representation.
func (r ResourceID) String() string {
	return string(r)
}

// ParseResourceID validates a resource id typed on a command line.
func ParseResourceID(s string) (ResourceID, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "/?#& \t") {
		return "", NewDomainError("resource", "Parse", ErrInvalidID, "invalid resource id "+strconv.Quote(s))
	}
	return ResourceID(s), nil
}

// LessonID identifies the lesson (phase) a resource belongs to.
type LessonID string

// IsValid checks the ID is present.
func (l LessonID) IsValid() bool {
	return l != ""
}

// String returns the string representation.
func (l LessonID) String() string {
	return string(l)
}

// SessionID identifies a monitoring session. The zero value means "not resolved yet".
type SessionID string

// IsZero reports whether the session has not been resolved.
func (s SessionID) IsZero() bool {
	return s == ""
}

// String returns the string representation.
func (s SessionID) String() string {
	return string(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Score is a 0..100 grade.
type Score float64

// MaxScore is the upper bound of every grade in the system.
const MaxScore Score = 100

// NewScore validates a grade.
func NewScore(v float64) (Score, error) {
	if math.IsNaN(v) || v < 0 || v > float64(MaxScore) {
		return 0, WrapError("score", "Validate", ErrValueOutOfRange, "score must be between 0 and 100", nil)
	}
	return Score(v), nil
}

// Float64 returns the underlying value.
func (s Score) Float64() float64 {
	return float64(s)
}

// Rounded returns the score rounded half away from zero.
func (s Score) Rounded() int {
	return int(math.Round(float64(s)))
}

// String formats the score with at most one decimal.
func (s Score) String() string {
	return strconv.FormatFloat(math.Round(float64(s)*10)/10, 'f', -1, 64)
}

// ScorePtr is a convenience for building optional scores in literals and tests.
func ScorePtr(v float64) *Score {
	s := Score(v)
	return &s
}
