package backend

import (
	"errors"
	"strings"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to domain transformations
// ══════════════════════════════════════════════════════════════════════════════

// ErrNilDTO is returned when a mapper receives nothing to map.
var ErrNilDTO = errors.New("nil DTO")

// Mapper keeps backend field names and nullability rules out of the domain.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ResourceFromDTO converts resource metadata. A missing permite_monitoreo
// means monitoring is allowed, matching the backend default.
func (m *Mapper) ResourceFromDTO(dto *ResourceDTO) (*monitoring.Resource, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}

	allows := true
	if dto.PermiteMonitoreo != nil {
		allows = *dto.PermiteMonitoreo
	}

	return &monitoring.Resource{
		ID:               shared.ResourceID(dto.ID),
		Name:             strings.TrimSpace(dto.Name),
		Kind:             monitoring.ResourceKind(strings.ToLower(dto.Kind)),
		LessonID:         shared.LessonID(dto.LessonID()),
		AllowsMonitoring: allows,
		Evaluable:        dto.EsEvaluable,
		Duration:         dto.Duracion.Duration,
	}, nil
}

// ReadoutFromDTO converts a frame analysis result.
func (m *Mapper) ReadoutFromDTO(dto *FrameResponseDTO) (*monitoring.Readout, error) {
	if dto == nil || dto.ScoreAtencion == nil {
		return nil, ErrNilDTO
	}
	score, err := shared.NewScore(*dto.ScoreAtencion)
	if err != nil {
		return nil, err
	}
	return &monitoring.Readout{
		Score: score,
		State: dto.EstadoAtencion,
		Metrics: monitoring.PoseMetrics{
			EAR:   dto.Metricas.EAR,
			MAR:   dto.Metricas.MAR,
			Yaw:   dto.Metricas.Yaw,
			Pitch: dto.Metricas.Pitch,
			Roll:  dto.Metricas.Roll,
		},
	}, nil
}

// CombinedFromDTO recomputes the combined grade locally from the two inputs.
// The server's nota_combinada is ignored because it is null whenever either
// input is missing, while the local rule counts a missing input as zero.
func (m *Mapper) CombinedFromDTO(dto *CombinedScoreDTO) (monitoring.CombinedScore, error) {
	if dto == nil {
		return monitoring.CombinedScore{}, ErrNilDTO
	}
	attention, err := optionalScore(dto.ScoreAtencion)
	if err != nil {
		return monitoring.CombinedScore{}, err
	}
	academic, err := optionalScore(dto.NotaAcademica)
	if err != nil {
		return monitoring.CombinedScore{}, err
	}
	return monitoring.Combine(attention, academic), nil
}

// RecommendationFromDTO converts the generator's answer, dropping empty actions.
func (m *Mapper) RecommendationFromDTO(dto *RecommendationDTO) (*monitoring.Recommendation, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	rec := &monitoring.Recommendation{Message: strings.TrimSpace(dto.Mensaje)}
	for _, a := range dto.Acciones {
		desc := strings.TrimSpace(a.Descripcion)
		if desc == "" {
			continue
		}
		rec.Actions = append(rec.Actions, monitoring.Action{Kind: a.Tipo, Description: desc})
	}
	return rec, nil
}

// RecommendationToDTO builds the generator request.
func (m *Mapper) RecommendationToDTO(req monitoring.RecommendationRequest) RecommendationRequest {
	return RecommendationRequest{
		Estudiante: req.StudentID.String(),
		Fase:       req.LessonID.String(),
		Atencion:   req.Attention.Float64(),
		Nota:       req.Academic.Float64(),
	}
}

func optionalScore(v *float64) (*shared.Score, error) {
	if v == nil {
		return nil, nil
	}
	s, err := shared.NewScore(*v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
