package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOURCE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ResourceDTO is the metadata of a learning resource.
// The lesson arrives as "fase" on the reference backend; some deployments
// expose "leccion_id" or "fase_id" instead.
type ResourceDTO struct {
	ID               string      `json:"id" validate:"required"`
	Name             string      `json:"nombre"`
	Kind             string      `json:"tipo"`
	Fase             string      `json:"fase"`
	LeccionID        string      `json:"leccion_id"`
	FaseID           string      `json:"fase_id"`
	PermiteMonitoreo *bool       `json:"permite_monitoreo"`
	EsEvaluable      bool        `json:"es_evaluable"`
	Duracion         DurationDTO `json:"duracion"`
	NotaMaxima       *float64    `json:"nota_maxima" validate:"omitempty,gt=0"`
}

// LessonID returns the first lesson reference present.
func (r *ResourceDTO) LessonID() string {
	for _, v := range []string{r.LeccionID, r.FaseID, r.Fase} {
		if v != "" {
			return v
		}
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SessionDTO is a monitoring session as serialized by the backend.
type SessionDTO struct {
	ID            string      `json:"id" validate:"required"`
	Estudiante    string      `json:"estudiante"`
	Recurso       string      `json:"recurso"`
	Fase          string      `json:"fase"`
	Inicio        *time.Time  `json:"inicio"`
	Fin           *time.Time  `json:"fin"`
	Duracion      DurationDTO `json:"duracion"`
	ScoreAtencion *float64    `json:"score_atencion"`
}

// SessionListDTO accepts both a bare array and a paginated {results: [...]} body.
type SessionListDTO struct {
	Count   int
	Results []SessionDTO
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *SessionListDTO) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &l.Results); err != nil {
			return err
		}
		l.Count = len(l.Results)
		return nil
	}

	var page struct {
		Count   int          `json:"count"`
		Results []SessionDTO `json:"results"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	l.Count = page.Count
	l.Results = page.Results
	return nil
}

// CreateSessionRequest asks the backend for the caller's session on a resource.
type CreateSessionRequest struct {
	Recurso string `json:"recurso"`
}

// MonitorRequest declares the monitoring window, in seconds.
type MonitorRequest struct {
	Duracion int `json:"duracion"`
}

// MonitorResponseDTO acknowledges a monitoring start.
type MonitorResponseDTO struct {
	Sesion  SessionDTO `json:"sesion"`
	Mensaje string     `json:"mensaje"`
}

// FinishRequest closes the monitoring window of a session.
type FinishRequest struct {
	Fin      time.Time   `json:"fin"`
	Duracion DurationDTO `json:"duracion"`
}

// ══════════════════════════════════════════════════════════════════════════════
// FRAME DTOs
// ══════════════════════════════════════════════════════════════════════════════

// FrameRequest carries one JPEG frame as a data URL.
type FrameRequest struct {
	Frame string `json:"frame"`
}

// MetricsDTO are the landmark metrics computed for a frame.
type MetricsDTO struct {
	EAR   float64 `json:"ear"`
	MAR   float64 `json:"mar"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// FrameResponseDTO is the live readout for a frame.
type FrameResponseDTO struct {
	Metricas       MetricsDTO `json:"metricas"`
	ScoreAtencion  *float64   `json:"score_atencion" validate:"required,gte=0,lte=100"`
	EstadoAtencion string     `json:"estado_atencion"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// CombinedScoreDTO is the per (student, resource) grade summary.
// Every score is nullable.
type CombinedScoreDTO struct {
	Estudiante    string   `json:"estudiante"`
	Recurso       string   `json:"recurso"`
	ScoreAtencion *float64 `json:"score_atencion" validate:"omitempty,gte=0,lte=100"`
	NotaAcademica *float64 `json:"nota_academica" validate:"omitempty,gte=0,lte=100"`
	NotaCombinada *float64 `json:"nota_combinada"`
}

// RecommendationRequest is the input of the recommendation generator.
type RecommendationRequest struct {
	Estudiante string  `json:"estudiante" validate:"required"`
	Fase       string  `json:"fase" validate:"required"`
	Atencion   float64 `json:"atencion" validate:"gte=0,lte=100"`
	Nota       float64 `json:"nota" validate:"gte=0,lte=100"`
}

// ActionDTO is one suggested step.
type ActionDTO struct {
	Tipo        string `json:"tipo"`
	Descripcion string `json:"descripcion"`
}

// RecommendationDTO is the generator's answer.
type RecommendationDTO struct {
	Mensaje  string      `json:"mensaje" validate:"required"`
	Acciones []ActionDTO `json:"acciones"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO covers both error shapes the backend uses: {"detail": ...} and {"error": ...}.
type APIErrorDTO struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Message returns whichever field is set.
func (e APIErrorDTO) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// DURATIONS
// ══════════════════════════════════════════════════════════════════════════════

// DurationDTO reads a duration written either as seconds (number or numeric
// string) or as "[DD ]HH:MM:SS[.ffffff]". It writes "HH:MM:SS".
type DurationDTO struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DurationDTO) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		d.Duration = 0
		return nil
	}
	if data[0] != '"' {
		secs, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d DurationDTO) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatDuration(d.Duration))
}

// ParseDuration parses seconds or "[DD ]HH:MM:SS[.ffffff]".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	var days int
	if i := strings.IndexByte(s, ' '); i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("duration %q: bad day count", s)
		}
		days = n
		s = strings.TrimSpace(s[i+1:])
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("duration %q: want HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("duration %q: bad hours", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("duration %q: bad minutes", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: bad seconds", s)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second))
	return total, nil
}

// FormatDuration writes d as "HH:MM:SS", the format the backend's duration fields accept.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
