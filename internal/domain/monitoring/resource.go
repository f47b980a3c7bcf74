package monitoring

import (
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOURCE
// ══════════════════════════════════════════════════════════════════════════════

// ResourceKind is the presentation type of a learning resource.
type ResourceKind string

const (
	ResourceVideo     ResourceKind = "video"
	ResourceQuiz      ResourceKind = "quiz"
	ResourcePDF       ResourceKind = "pdf"
	ResourceSimulator ResourceKind = "simulador"
	ResourceFile      ResourceKind = "archivo"
)

// Resource is the read-only view of a learning resource owned by the backend.
type Resource struct {
	ID       shared.ResourceID
	Name     string
	Kind     ResourceKind
	LessonID shared.LessonID

	// AllowsMonitoring gates the whole consent and capture flow.
	AllowsMonitoring bool

	// Evaluable resources contribute to the combined grade.
	Evaluable bool

	// Duration is the monitoring window declared by the author. Zero means unset.
	Duration time.Duration
}

// MonitoringDuration returns the window to monitor for, falling back to def when
// the resource declares none. The result is always positive for a positive def.
func (r Resource) MonitoringDuration(def time.Duration) time.Duration {
	if r.Duration > 0 {
		return r.Duration.Truncate(time.Second)
	}
	return def
}

// CanOfferMonitoring reports whether the viewer may ever show "Begin".
func (r Resource) CanOfferMonitoring() bool {
	return r.ID.IsValid() && r.AllowsMonitoring
}

// ShouldReconcile reports whether a combined grade exists for this resource.
func (r Resource) ShouldReconcile() bool {
	return r.Evaluable
}
