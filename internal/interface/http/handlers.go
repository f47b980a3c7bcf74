package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/learnwatch/attention-monitor/internal/application/monitor"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// HealthDTO is the body of GET /healthz.
type HealthDTO struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	Version         string  `json:"version,omitempty"`
	Breaker         string  `json:"breaker,omitempty"`
	FramesAvailable float64 `json:"frames_available,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := HealthDTO{
		Status:  "healthy",
		Uptime:  s.Uptime().Round(time.Second).String(),
		Version: s.deps.Version,
	}
	if s.deps.Backend != nil {
		h.Breaker, h.FramesAvailable = s.deps.Backend()
		if h.Breaker == "open" {
			h.Status = "degraded"
		}
	}
	writeJSON(w, r, http.StatusOK, h)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// StatusDTO is the body of GET /status. Errors are reduced to the user message.
type StatusDTO struct {
	State      string  `json:"state"`
	Epoch      uint64  `json:"epoch"`
	ResourceID string  `json:"resource_id,omitempty"`
	Resource   string  `json:"resource,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	CanBegin   bool    `json:"can_begin"`
	Consent    bool    `json:"consent_visible"`
	Duration   float64 `json:"duration_seconds"`
	Remaining  float64 `json:"remaining_seconds"`
	Completed  bool    `json:"completed"`
	Message    string  `json:"message"`

	Frames    *FramesDTO  `json:"frames,omitempty"`
	Attention *ReadoutDTO `json:"attention,omitempty"`
	Grade     *GradeDTO   `json:"grade,omitempty"`
}

// FramesDTO mirrors the capture counters.
type FramesDTO struct {
	Ticks   int64 `json:"ticks"`
	Sent    int64 `json:"sent"`
	NoFace  int64 `json:"no_face"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
	Dropped int64 `json:"dropped"`
}

// ReadoutDTO is the last live attention sample.
type ReadoutDTO struct {
	Score float64 `json:"score"`
	State string  `json:"state"`
}

// GradeDTO is the reconciled grade.
type GradeDTO struct {
	Attention      *float64 `json:"attention"`
	Academic       *float64 `json:"academic"`
	Combined       int      `json:"combined"`
	Recommendation string   `json:"recommendation,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Viewer == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "no_viewer", "No resource is being watched")
		return
	}
	writeJSON(w, r, http.StatusOK, statusFromSnapshot(s.deps.Viewer.Snapshot()))
}

func statusFromSnapshot(snap monitor.Snapshot) StatusDTO {
	dto := StatusDTO{
		State:     snap.State.String(),
		Epoch:     snap.Epoch,
		SessionID: snap.SessionID.String(),
		CanBegin:  snap.CanBegin,
		Consent:   snap.ConsentVisible,
		Duration:  snap.Duration.Seconds(),
		Remaining: snap.Remaining.Seconds(),
		Completed: snap.Completed,
		Message:   snap.Message,
	}
	if snap.Resource != nil {
		dto.ResourceID = snap.Resource.ID.String()
		dto.Resource = snap.Resource.Name
	}
	if c := snap.Capture; c.Ticks > 0 {
		dto.Frames = &FramesDTO{
			Ticks: c.Ticks, Sent: c.Sent, NoFace: c.NoFace,
			Failed: c.Failed, Skipped: c.Skipped, Dropped: c.Dropped,
		}
	}
	if rd := snap.Readout; rd != nil {
		dto.Attention = &ReadoutDTO{Score: rd.Score.Float64(), State: rd.State}
	}
	if sc := snap.Score; sc != nil {
		dto.Grade = &GradeDTO{
			Attention: optionalFloat(sc.Attention),
			Academic:  optionalFloat(sc.Academic),
			Combined:  sc.Combined,
		}
		if snap.Recommendation != nil {
			dto.Grade.Recommendation = snap.Recommendation.Message
		}
	}
	return dto
}

func optionalFloat(s *shared.Score) *float64 {
	if s == nil {
		return nil
	}
	v := s.Float64()
	return &v
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, r, http.StatusNotFound, "journal_disabled", "The monitoring journal is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	h, err := s.deps.History.Handle(r.Context(), monitor.GetHistoryQuery{
		StudentID: s.deps.Student,
		Limit:     limit,
	})
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, h)
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
	default:
		s.logger.Error("history lookup failed", logger.Err(err), logger.RequestID(getRequestID(r.Context())))
		writeJSONError(w, r, http.StatusBadGateway, "journal_unavailable", "The monitoring journal is unavailable")
	}
}
