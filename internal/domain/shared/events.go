// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that happened
// while a student was viewing a resource.
const (
	// Viewer events
	EventViewerStateChanged EventType = "viewer.state_changed"
	EventSessionResolved    EventType = "viewer.session_resolved"

	// Monitoring events
	EventMonitoringStarted EventType = "monitoring.started"
	EventPreviewReady      EventType = "monitoring.preview_ready"
	EventCountdownTick     EventType = "monitoring.countdown_tick"
	EventFrameAnalyzed     EventType = "monitoring.frame_analyzed"
	EventMonitoringEnded   EventType = "monitoring.ended"

	// Result events
	EventScoreReconciled     EventType = "result.score_reconciled"
	EventRecommendationReady EventType = "result.recommendation_ready"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. Events are aggregated per resource.
func NewBaseEvent(eventType EventType, resourceID ResourceID) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: resourceID.String(),
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Viewer Events
// ═══════════════════════════════════════════════════════════════════════════

// ViewerStateChangedEvent is emitted on every accepted state machine transition.
type ViewerStateChangedEvent struct {
	BaseEvent
	From  string `json:"from"`
	To    string `json:"to"`
	Cause string `json:"cause"`
	Epoch uint64 `json:"epoch"`
}

// Payload implements Event interface.
func (e ViewerStateChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from":  e.From,
		"to":    e.To,
		"cause": e.Cause,
		"epoch": e.Epoch,
	}
}

// NewViewerStateChangedEvent creates a new ViewerStateChangedEvent.
func NewViewerStateChangedEvent(resourceID ResourceID, from, to, cause string, epoch uint64) ViewerStateChangedEvent {
	return ViewerStateChangedEvent{
		BaseEvent: NewBaseEvent(EventViewerStateChanged, resourceID),
		From:      from,
		To:        to,
		Cause:     cause,
		Epoch:     epoch,
	}
}

// SessionResolvedEvent is emitted once the background session lookup succeeds.
type SessionResolvedEvent struct {
	BaseEvent
	SessionID SessionID `json:"session_id"`
}

// Payload implements Event interface.
func (e SessionResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID.String(),
	}
}

// NewSessionResolvedEvent creates a new SessionResolvedEvent.
func NewSessionResolvedEvent(resourceID ResourceID, sessionID SessionID) SessionResolvedEvent {
	return SessionResolvedEvent{
		BaseEvent: NewBaseEvent(EventSessionResolved, resourceID),
		SessionID: sessionID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Monitoring Events
// ═══════════════════════════════════════════════════════════════════════════

// MonitoringStartedEvent is emitted when capture and countdown begin.
type MonitoringStartedEvent struct {
	BaseEvent
	SessionID SessionID     `json:"session_id"`
	Duration  time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e MonitoringStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID.String(),
		"duration":   e.Duration.String(),
	}
}

// NewMonitoringStartedEvent creates a new MonitoringStartedEvent.
func NewMonitoringStartedEvent(resourceID ResourceID, sessionID SessionID, duration time.Duration) MonitoringStartedEvent {
	return MonitoringStartedEvent{
		BaseEvent: NewBaseEvent(EventMonitoringStarted, resourceID),
		SessionID: sessionID,
		Duration:  duration,
	}
}

// PreviewReadyEvent is emitted once the stream delivers a frame with real dimensions.
type PreviewReadyEvent struct {
	BaseEvent
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Payload implements Event interface.
func (e PreviewReadyEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"width":  e.Width,
		"height": e.Height,
	}
}

// NewPreviewReadyEvent creates a new PreviewReadyEvent.
func NewPreviewReadyEvent(resourceID ResourceID, width, height int) PreviewReadyEvent {
	return PreviewReadyEvent{
		BaseEvent: NewBaseEvent(EventPreviewReady, resourceID),
		Width:     width,
		Height:    height,
	}
}

// CountdownTickEvent is emitted once per countdown tick.
type CountdownTickEvent struct {
	BaseEvent
	Remaining time.Duration `json:"remaining"`
}

// Payload implements Event interface.
func (e CountdownTickEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"remaining_seconds": int64(e.Remaining / time.Second),
	}
}

// NewCountdownTickEvent creates a new CountdownTickEvent.
func NewCountdownTickEvent(resourceID ResourceID, remaining time.Duration) CountdownTickEvent {
	return CountdownTickEvent{
		BaseEvent: NewBaseEvent(EventCountdownTick, resourceID),
		Remaining: remaining,
	}
}

// FrameAnalyzedEvent carries the live readout for one dispatched frame.
type FrameAnalyzedEvent struct {
	BaseEvent
	SessionID SessionID `json:"session_id"`
	Score     Score     `json:"score"`
	State     string    `json:"state"`
}

// Payload implements Event interface.
func (e FrameAnalyzedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID.String(),
		"score":      e.Score.Float64(),
		"state":      e.State,
	}
}

// NewFrameAnalyzedEvent creates a new FrameAnalyzedEvent.
func NewFrameAnalyzedEvent(resourceID ResourceID, sessionID SessionID, score Score, state string) FrameAnalyzedEvent {
	return FrameAnalyzedEvent{
		BaseEvent: NewBaseEvent(EventFrameAnalyzed, resourceID),
		SessionID: sessionID,
		Score:     score,
		State:     state,
	}
}

// MonitoringEndedEvent is emitted on every exit path out of Monitoring.
type MonitoringEndedEvent struct {
	BaseEvent
	SessionID  SessionID     `json:"session_id"`
	Outcome    string        `json:"outcome"` // finished, cancelled, failed
	Elapsed    time.Duration `json:"elapsed"`
	FramesSent int64         `json:"frames_sent"`
}

// Payload implements Event interface.
func (e MonitoringEndedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  e.SessionID.String(),
		"outcome":     e.Outcome,
		"elapsed":     e.Elapsed.String(),
		"frames_sent": e.FramesSent,
	}
}

// NewMonitoringEndedEvent creates a new MonitoringEndedEvent.
func NewMonitoringEndedEvent(resourceID ResourceID, sessionID SessionID, outcome string, elapsed time.Duration, framesSent int64) MonitoringEndedEvent {
	return MonitoringEndedEvent{
		BaseEvent:  NewBaseEvent(EventMonitoringEnded, resourceID),
		SessionID:  sessionID,
		Outcome:    outcome,
		Elapsed:    elapsed,
		FramesSent: framesSent,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Result Events
// ═══════════════════════════════════════════════════════════════════════════

// ScoreReconciledEvent is emitted when the combined score is known.
type ScoreReconciledEvent struct {
	BaseEvent
	Attention Score `json:"attention"`
	Academic  Score `json:"academic"`
	Combined  int   `json:"combined"`
}

// Payload implements Event interface.
func (e ScoreReconciledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"attention": e.Attention.Float64(),
		"academic":  e.Academic.Float64(),
		"combined":  e.Combined,
	}
}

// NewScoreReconciledEvent creates a new ScoreReconciledEvent.
func NewScoreReconciledEvent(resourceID ResourceID, attention, academic Score, combined int) ScoreReconciledEvent {
	return ScoreReconciledEvent{
		BaseEvent: NewBaseEvent(EventScoreReconciled, resourceID),
		Attention: attention,
		Academic:  academic,
		Combined:  combined,
	}
}

// RecommendationReadyEvent is emitted when the recommendation generator answered.
type RecommendationReadyEvent struct {
	BaseEvent
	Message string `json:"message"`
	Actions int    `json:"actions"`
}

// Payload implements Event interface.
func (e RecommendationReadyEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"message": e.Message,
		"actions": e.Actions,
	}
}

// NewRecommendationReadyEvent creates a new RecommendationReadyEvent.
func NewRecommendationReadyEvent(resourceID ResourceID, message string, actions int) RecommendationReadyEvent {
	return RecommendationReadyEvent{
		BaseEvent: NewBaseEvent(EventRecommendationReady, resourceID),
		Message:   message,
		Actions:   actions,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventPublisher publishes events. Publishing never blocks on handlers.
type EventPublisher interface {
	Publish(event Event) error
}
