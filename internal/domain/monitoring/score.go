package monitoring

import (
	"math"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// Weights of the combined grade.
const (
	AttentionWeight = 0.4
	AcademicWeight  = 0.6
)

// CombinedScore is the blended grade for one (student, resource) pair.
// Attention and Academic are nil when the backend has no data for them.
type CombinedScore struct {
	Attention *shared.Score
	Academic  *shared.Score
	Combined  int
}

// Combine blends the two grades: round(0.4*attention + 0.6*academic).
// Missing inputs count as zero.
func Combine(attention, academic *shared.Score) CombinedScore {
	var a, b float64
	if attention != nil {
		a = attention.Float64()
	}
	if academic != nil {
		b = academic.Float64()
	}
	return CombinedScore{
		Attention: attention,
		Academic:  academic,
		Combined:  int(math.Round(AttentionWeight*a + AcademicWeight*b)),
	}
}

// AttentionOrZero returns the attention grade, zero when missing.
func (c CombinedScore) AttentionOrZero() shared.Score {
	if c.Attention == nil {
		return 0
	}
	return *c.Attention
}

// AcademicOrZero returns the academic grade, zero when missing.
func (c CombinedScore) AcademicOrZero() shared.Score {
	if c.Academic == nil {
		return 0
	}
	return *c.Academic
}

// ══════════════════════════════════════════════════════════════════════════════
// LIVE READOUT
// ══════════════════════════════════════════════════════════════════════════════

// PoseMetrics are the facial landmarks the analyzer reports per frame.
type PoseMetrics struct {
	EAR   float64 // eye aspect ratio
	MAR   float64 // mouth aspect ratio
	Yaw   float64
	Pitch float64
	Roll  float64
}

// Readout is the server's per-frame attention sample. It is advisory only.
type Readout struct {
	Score   shared.Score
	State   string
	Metrics PoseMetrics
}

// Recommendation is the generator's answer for a finished lesson.
type Recommendation struct {
	Message string
	Actions []Action
}

// Action is one concrete step the student can take on the platform.
type Action struct {
	Kind        string
	Description string
}
