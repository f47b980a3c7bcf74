package monitor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT RECONCILER
// ══════════════════════════════════════════════════════════════════════════════

// errNoLesson is the cause when a resource has no lesson to recommend for.
var errNoLesson = errors.New("resource has no lesson")

// Reconciler fetches the combined grade of evaluable resources and forwards
// it to the recommendation generator.
type Reconciler struct {
	student shared.StudentID
	scores  monitoring.ScoreGateway
	logger  *slog.Logger

	scoreOnly bool
}

// NewReconciler creates a Reconciler for student.
func NewReconciler(student shared.StudentID, scores monitoring.ScoreGateway, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		student: student,
		scores:  scores,
		logger:  log.With(logger.Component("reconciler")),
	}
}

// ScoreOnly stops Reconcile after the grade; no recommendation is requested.
func (r *Reconciler) ScoreOnly() *Reconciler {
	r.scoreOnly = true
	return r
}

// Reconciliation is the outcome of one reconcile pass. Score is nil when the
// resource is not evaluable or the fetch failed.
type Reconciliation struct {
	Score          *monitoring.CombinedScore
	Recommendation *monitoring.Recommendation

	ScoreErr          error
	RecommendationErr error
}

// FetchScore returns the combined grade, or nil without a backend call when
// the resource is not evaluable. Errors match shared.ErrScoreFetch.
func (r *Reconciler) FetchScore(ctx context.Context, res monitoring.Resource) (*monitoring.CombinedScore, error) {
	if !res.ShouldReconcile() {
		return nil, nil
	}
	score, err := r.scores.CombinedScore(ctx, r.student, res.ID)
	if err != nil {
		return nil, shared.ErrScoreFetch.Wrap(err)
	}
	return &score, nil
}

// Recommend forwards a known grade to the generator. Errors match
// shared.ErrRecommendation.
func (r *Reconciler) Recommend(ctx context.Context, res monitoring.Resource, score monitoring.CombinedScore) (*monitoring.Recommendation, error) {
	if !res.LessonID.IsValid() {
		return nil, shared.ErrRecommendation.Wrap(errNoLesson)
	}
	rec, err := r.scores.Recommend(ctx, monitoring.RecommendationRequest{
		StudentID: r.student,
		LessonID:  res.LessonID,
		Attention: score.AttentionOrZero(),
		Academic:  score.AcademicOrZero(),
	})
	if err != nil {
		return nil, shared.ErrRecommendation.Wrap(err)
	}
	return rec, nil
}

// Reconcile runs both steps. onScore, when set, receives the grade before the
// recommendation is requested so displaying it never waits on the generator.
func (r *Reconciler) Reconcile(ctx context.Context, res monitoring.Resource, onScore func(monitoring.CombinedScore)) Reconciliation {
	var out Reconciliation

	out.Score, out.ScoreErr = r.FetchScore(ctx, res)
	if out.ScoreErr != nil {
		r.logger.Warn("combined score unavailable", logger.ResourceID(res.ID.String()), logger.Err(out.ScoreErr))
		return out
	}
	if out.Score == nil {
		return out
	}
	if onScore != nil {
		onScore(*out.Score)
	}
	if r.scoreOnly {
		return out
	}

	out.Recommendation, out.RecommendationErr = r.Recommend(ctx, res, *out.Score)
	if out.RecommendationErr != nil {
		r.logger.Warn("recommendation unavailable", logger.ResourceID(res.ID.String()), logger.Err(out.RecommendationErr))
	}
	return out
}
