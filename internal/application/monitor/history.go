package monitor

import (
	"context"
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HISTORY QUERY
// Lists the journal of past monitoring runs of a student, newest first,
// together with a short summary.
// ══════════════════════════════════════════════════════════════════════════════

// GetHistoryQuery contains the parameters of a history lookup.
type GetHistoryQuery struct {
	StudentID shared.StudentID

	// Limit caps the number of runs (default 20, max 200).
	Limit int
}

// Validate checks the query and applies defaults.
func (q *GetHistoryQuery) Validate() error {
	if !q.StudentID.IsValid() {
		return shared.NewDomainError("history", "Validate", shared.ErrInvalidID, "student id is required")
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	return nil
}

// RunDTO is one monitoring run.
type RunDTO struct {
	ID         string        `json:"id"`
	ResourceID string        `json:"resource_id"`
	SessionID  string        `json:"session_id"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	Elapsed    time.Duration `json:"elapsed"`
	StartedAt  time.Time     `json:"started_at"`
	FramesSent int64         `json:"frames_sent"`

	// FramesLost counts frames that never reached the analyzer.
	FramesLost int64  `json:"frames_lost"`
	Combined   *int   `json:"combined,omitempty"`
	Message    string `json:"message,omitempty"`
}

// HistoryDTO is the answer of a history lookup.
type HistoryDTO struct {
	Runs      []RunDTO `json:"runs"`
	Finished  int      `json:"finished"`
	Cancelled int      `json:"cancelled"`

	// AverageCombined is the mean combined grade over graded runs, nil when none.
	AverageCombined *int `json:"average_combined,omitempty"`
}

// GetHistoryHandler answers GetHistoryQuery from the journal.
type GetHistoryHandler struct {
	journal monitoring.JournalRepository
}

// NewGetHistoryHandler creates a handler.
func NewGetHistoryHandler(journal monitoring.JournalRepository) *GetHistoryHandler {
	return &GetHistoryHandler{journal: journal}
}

// Handle runs the query.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) (*HistoryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	entries, err := h.journal.ListByStudent(ctx, q.StudentID, q.Limit)
	if err != nil {
		return nil, shared.WrapError("history", "Handle", shared.ErrExternalService, "could not read journal", err)
	}

	dto := &HistoryDTO{Runs: make([]RunDTO, 0, len(entries))}
	var graded, total int
	for _, e := range entries {
		dto.Runs = append(dto.Runs, toRunDTO(e))
		switch e.Status {
		case monitoring.StatusFinished:
			dto.Finished++
		case monitoring.StatusCancelled:
			dto.Cancelled++
		}
		if e.Combined != nil {
			graded++
			total += *e.Combined
		}
	}
	if graded > 0 {
		avg := (total + graded/2) / graded
		dto.AverageCombined = &avg
	}
	return dto, nil
}

func toRunDTO(e *monitoring.JournalEntry) RunDTO {
	run := RunDTO{
		ID:         e.ID,
		ResourceID: e.ResourceID.String(),
		SessionID:  e.SessionID.String(),
		Status:     string(e.Status),
		Duration:   e.Duration,
		StartedAt:  e.StartedAt,
		FramesSent: e.FramesSent,
		FramesLost: e.FramesFailed + e.FramesSkipped,
		Message:    e.Message,
	}
	if !e.EndedAt.IsZero() && !e.StartedAt.IsZero() {
		run.Elapsed = e.EndedAt.Sub(e.StartedAt)
	}
	if e.Combined != nil {
		c := *e.Combined
		run.Combined = &c
	}
	return run
}
