package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VIEWER CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// ViewerConfig wires a Viewer. Journal and Events are optional.
type ViewerConfig struct {
	Registry   *Registry
	Sessions   monitoring.SessionGateway
	Consent    *ConsentGate
	Media      *Media
	Capture    *CaptureScheduler
	Countdown  *Countdown
	Reconciler *Reconciler
	Journal    monitoring.JournalRepository
	Events     shared.EventPublisher

	// DefaultDuration applies when a resource declares none. Default 30s.
	DefaultDuration time.Duration

	// ReadyTimeout bounds the wait for the first sized frame. Default 10s.
	ReadyTimeout time.Duration

	// FinalizeTimeout bounds the finalize call, which outlives teardown. Default 15s.
	FinalizeTimeout time.Duration

	Logger *slog.Logger
}

// errSuperseded is returned when a newer Mount or Unmount overtook a Mount.
var errSuperseded = shared.NewDomainError("viewer", "Mount", shared.ErrInvalidState, "superseded by a newer mount")

// ══════════════════════════════════════════════════════════════════════════════
// VIEWER
// ══════════════════════════════════════════════════════════════════════════════

// Viewer orchestrates monitoring for the mounted resource. It owns the single
// stream and both loops, drives them through monitoring.Transition, and tags
// every asynchronous completion with the epoch it started under. Unmount and
// Mount bump the epoch, so stale completions are dropped.
//
// Event handlers must not call back into the Viewer synchronously.
type Viewer struct {
	registry   *Registry
	sessions   monitoring.SessionGateway
	consent    *ConsentGate
	media      *Media
	capture    *CaptureScheduler
	countdown  *Countdown
	reconciler *Reconciler
	journal    monitoring.JournalRepository
	events     shared.EventPublisher

	defaultDuration time.Duration
	readyTimeout    time.Duration
	finalizeTimeout time.Duration
	logger          *slog.Logger

	epoch atomic.Uint64
	bg    sync.WaitGroup

	mu             sync.Mutex
	state          monitoring.State
	resource       *monitoring.Resource
	sessionID      shared.SessionID
	session        *monitoring.Session
	duration       time.Duration
	runCtx         context.Context
	cancelRun      context.CancelFunc
	stream         monitoring.CameraStream
	consentVisible bool
	preview        image.Rectangle
	entry          monitoring.JournalEntry
	completed      bool
	lastErr        error
	score          *monitoring.CombinedScore
	scoreErr       error
	recommendation *monitoring.Recommendation
	recErr         error
	changed        chan struct{}
}

// NewViewer creates an idle Viewer.
func NewViewer(config ViewerConfig) *Viewer {
	if config.Consent == nil {
		config.Consent = NewConsentGate()
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = 30 * time.Second
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = 10 * time.Second
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Viewer{
		registry:        config.Registry,
		sessions:        config.Sessions,
		consent:         config.Consent,
		media:           config.Media,
		capture:         config.Capture,
		countdown:       config.Countdown,
		reconciler:      config.Reconciler,
		journal:         config.Journal,
		events:          config.Events,
		defaultDuration: config.DefaultDuration,
		readyTimeout:    config.ReadyTimeout,
		finalizeTimeout: config.FinalizeTimeout,
		logger:          config.Logger.With(logger.Component("viewer")),
		state:           monitoring.StateIdle,
		changed:         make(chan struct{}),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// USER ACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Mount tears down the current resource, then loads id and resolves its
// session in the background. A resource that does not allow monitoring stays
// Idle and never offers Begin.
func (v *Viewer) Mount(ctx context.Context, id shared.ResourceID) error {
	v.mu.Lock()
	v.teardownLocked()
	ep := v.epoch.Load()
	v.mu.Unlock()

	res, err := v.registry.Resource(ctx, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.epoch.Load() != ep {
		return errSuperseded
	}
	if err != nil {
		v.lastErr = err
		v.notifyLocked()
		return err
	}

	v.resource = res
	v.duration = res.MonitoringDuration(v.defaultDuration)
	v.runCtx, v.cancelRun = context.WithCancel(ctx)

	log := v.logger.With(logger.ResourceID(id.String()), logger.Epoch(ep))
	if !res.CanOfferMonitoring() {
		log.Info("resource does not allow monitoring")
		v.notifyLocked()
		return nil
	}

	runCtx := v.runCtx
	v.spawn(func() { v.resolve(runCtx, ep, id) })
	log.Debug("resource mounted", slog.Duration("duration", v.duration))
	v.notifyLocked()
	return nil
}

// Unmount tears everything down and leaves the viewer Idle.
func (v *Viewer) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.teardownLocked()
}

// Close unmounts and waits for background work to settle.
func (v *Viewer) Close() {
	v.Unmount()
	v.bg.Wait()
}

// Begin opens the consent notice. It is only accepted once the session is
// resolved, and again after an error.
func (v *Viewer) Begin() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.resource == nil || !v.resource.CanOfferMonitoring():
		return shared.ErrMonitoringNotAllowed
	case v.sessionID.IsZero():
		return shared.ErrSessionResolution.Wrap(errors.New("session is not resolved yet"))
	case v.duration <= 0:
		return shared.ErrInvalidDuration
	}

	if err := v.fireLocked(monitoring.TriggerBegin); err != nil {
		return err
	}
	v.lastErr = nil
	v.completed = false
	return nil
}

// Accept records consent and acquires the camera within the same call.
// On success capture and countdown are running when Accept returns.
func (v *Viewer) Accept() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !monitoring.CanTrigger(v.state, monitoring.TriggerAccept) {
		return shared.ErrIllegalTransition.Wrap(fmt.Errorf("accept on %s", v.state))
	}

	return v.consent.Accept(func() error {
		if err := v.fireLocked(monitoring.TriggerAccept); err != nil {
			v.lastErr = err
			_ = v.fireLocked(monitoring.TriggerAcquireFailed)
			return err
		}
		return v.fireLocked(monitoring.TriggerAcquired)
	})
}

// Decline closes the consent notice; no camera is touched.
func (v *Viewer) Decline() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !monitoring.CanTrigger(v.state, monitoring.TriggerDecline) {
		return shared.ErrIllegalTransition.Wrap(fmt.Errorf("decline on %s", v.state))
	}
	if err := v.consent.Decline(); err != nil {
		return err
	}
	return v.fireLocked(monitoring.TriggerDecline)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE DRIVER
// ══════════════════════════════════════════════════════════════════════════════

// fireLocked applies one transition and runs its effects in order. The first
// effect error is returned after every effect ran.
func (v *Viewer) fireLocked(on monitoring.Trigger) error {
	from := v.state
	to, effects, err := monitoring.Transition(from, on)
	if err != nil {
		return err
	}
	v.state = to

	var firstErr error
	for _, effect := range effects {
		if err := v.runLocked(effect); err != nil {
			v.logger.Warn("effect failed",
				slog.String("effect", effect.String()),
				logger.Epoch(v.epoch.Load()),
				logger.Err(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if from != to || len(effects) > 0 {
		v.logger.Debug("transition",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("on", on.String()),
			logger.Epoch(v.epoch.Load()),
		)
		v.publish(shared.NewViewerStateChangedEvent(v.resourceIDLocked(), from.String(), to.String(), on.String(), v.epoch.Load()))
	}
	v.notifyLocked()
	return firstErr
}

func (v *Viewer) runLocked(effect monitoring.Effect) error {
	switch effect {
	case monitoring.EffectShowConsent:
		v.consentVisible = true
		return v.consent.Request()

	case monitoring.EffectHideConsent:
		v.consentVisible = false
		return nil

	case monitoring.EffectAcquireCamera:
		if !v.consent.Granted() {
			return shared.ErrIllegalTransition.Wrap(errors.New("camera requested without consent"))
		}
		stream, err := v.media.Acquire(v.runCtx)
		if err != nil {
			return err
		}
		v.stream = stream
		return nil

	case monitoring.EffectStartSession:
		return v.startSessionLocked()

	case monitoring.EffectStartCapture:
		ep := v.epoch.Load()
		return v.capture.Start(v.runCtx, v.stream, v.sessionID, v.onReadout(ep))

	case monitoring.EffectStartCountdown:
		ep := v.epoch.Load()
		return v.countdown.Start(v.runCtx, v.duration, v.onTick(ep), v.onZero(ep))

	case monitoring.EffectStopCapture:
		v.capture.Stop()
		return nil

	case monitoring.EffectStopCountdown:
		v.countdown.Stop()
		return nil

	case monitoring.EffectReleaseCamera:
		v.stream = nil
		return v.media.Release()

	case monitoring.EffectFinalizeSession:
		return v.finalizeLocked()

	case monitoring.EffectCancelSession:
		v.cancelSessionLocked()
		return nil

	case monitoring.EffectReconcile:
		v.reconcileLocked()
		return nil

	default:
		return fmt.Errorf("unknown effect %s", effect)
	}
}

// teardownLocked leaves the current resource. Loops and stream are stopped
// before it returns; late completions see a newer epoch.
func (v *Viewer) teardownLocked() {
	v.epoch.Add(1)
	_ = v.fireLocked(monitoring.TriggerTeardown)

	v.consent.Reset()
	v.consentVisible = false
	if v.cancelRun != nil {
		v.cancelRun()
	}
	v.runCtx, v.cancelRun = nil, nil
	v.resource = nil
	v.sessionID = ""
	v.session = nil
	v.duration = 0
	v.stream = nil
	v.preview = image.Rectangle{}
	v.entry = monitoring.JournalEntry{}
	v.completed = false
	v.lastErr = nil
	v.score, v.scoreErr = nil, nil
	v.recommendation, v.recErr = nil, nil
	v.notifyLocked()
}

// ══════════════════════════════════════════════════════════════════════════════
// EFFECTS
// ══════════════════════════════════════════════════════════════════════════════

func (v *Viewer) startSessionLocked() error {
	sess, err := monitoring.NewSession(v.sessionID, v.registry.Student(), *v.resource)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := sess.Start(v.duration, now); err != nil {
		return err
	}
	v.session = sess
	v.entry = monitoring.JournalEntry{
		ID:         uuid.NewString(),
		StudentID:  sess.StudentID,
		ResourceID: sess.ResourceID,
		SessionID:  sess.ID,
		Status:     monitoring.StatusActive,
		Duration:   v.duration,
		StartedAt:  now,
	}

	ep, ctx, stream := v.epoch.Load(), v.runCtx, v.stream
	id, duration := v.sessionID, v.duration
	resourceID := v.resource.ID

	v.spawn(func() {
		if err := v.sessions.StartMonitoring(ctx, id, duration); err != nil && ctx.Err() == nil {
			v.logger.Warn("monitoring start not acknowledged",
				logger.SessionID(id.String()), logger.Epoch(ep), logger.Err(err))
		}
	})
	v.spawn(func() {
		readyCtx, cancel := context.WithTimeout(ctx, v.readyTimeout)
		defer cancel()
		bounds, err := AwaitReady(readyCtx, stream, 0)
		if err != nil {
			v.logger.Debug("preview not ready", logger.Epoch(ep), logger.Err(err))
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.epoch.Load() != ep {
			return
		}
		v.preview = bounds
		v.publish(shared.NewPreviewReadyEvent(resourceID, bounds.Dx(), bounds.Dy()))
		v.notifyLocked()
	})

	v.publish(shared.NewMonitoringStartedEvent(resourceID, id, duration))
	return nil
}

// finalizeLocked marks the session finished locally and reports the end of the
// window to the backend. The call is not retried; it outlives a teardown so
// the server still learns about the finished window.
func (v *Viewer) finalizeLocked() error {
	now := time.Now()
	if err := v.session.Finish(now); err != nil {
		return err
	}
	entry := v.closeEntryLocked(monitoring.StatusFinished, now)

	ep := v.epoch.Load()
	id, elapsed := v.session.ID, v.session.Elapsed()
	ctx := context.WithoutCancel(v.runCtx)

	v.spawn(func() {
		fctx, cancel := context.WithTimeout(ctx, v.finalizeTimeout)
		err := v.sessions.FinishMonitoring(fctx, id, elapsed)
		cancel()

		outcome := "finished"
		entry.Message = monitoring.CompletedMessage
		if err != nil {
			err = shared.ErrFinalize.Wrap(err)
			outcome = "failed"
			entry.Message = monitoring.StatusMessage(monitoring.StateError, err)
		}
		v.record(entry)
		v.publish(shared.NewMonitoringEndedEvent(entry.ResourceID, id, outcome, elapsed, entry.FramesSent))

		v.mu.Lock()
		defer v.mu.Unlock()
		if v.epoch.Load() != ep || v.state != monitoring.StateFinalizing {
			return
		}
		v.entry = entry
		if err != nil {
			v.logger.Warn("finalize failed", logger.SessionID(id.String()), logger.Err(err))
			v.lastErr = err
			_ = v.fireLocked(monitoring.TriggerFinalizeFailed)
			return
		}
		v.completed = true
		_ = v.fireLocked(monitoring.TriggerFinalized)
	})
	return nil
}

func (v *Viewer) cancelSessionLocked() {
	if v.session == nil {
		return
	}
	now := time.Now()
	v.session.Cancel(now)
	entry := v.closeEntryLocked(monitoring.StatusCancelled, now)
	entry.Message = "Monitoring was cancelled."
	elapsed := v.session.Elapsed()

	v.spawn(func() { v.record(entry) })
	v.publish(shared.NewMonitoringEndedEvent(entry.ResourceID, entry.SessionID, "cancelled", elapsed, entry.FramesSent))
}

func (v *Viewer) closeEntryLocked(status monitoring.Status, now time.Time) monitoring.JournalEntry {
	stats := v.capture.Stats()
	entry := v.entry
	entry.Status = status
	entry.EndedAt = now
	entry.FramesSent = stats.Sent + stats.NoFace
	entry.FramesFailed = stats.Failed
	entry.FramesSkipped = stats.Skipped + stats.Dropped
	return entry
}

func (v *Viewer) reconcileLocked() {
	if v.resource == nil || v.reconciler == nil {
		return
	}
	ep, ctx, res, entry := v.epoch.Load(), v.runCtx, *v.resource, v.entry

	v.spawn(func() {
		result := v.reconciler.Reconcile(ctx, res, func(score monitoring.CombinedScore) {
			if entry.ID != "" {
				combined := score.Combined
				entry.Combined = &combined
				v.record(entry)
			}

			v.mu.Lock()
			defer v.mu.Unlock()
			if v.epoch.Load() != ep {
				return
			}
			v.score = &score
			v.publish(shared.NewScoreReconciledEvent(res.ID, score.AttentionOrZero(), score.AcademicOrZero(), score.Combined))
			v.notifyLocked()
		})

		v.mu.Lock()
		defer v.mu.Unlock()
		if v.epoch.Load() != ep {
			return
		}
		v.scoreErr = result.ScoreErr
		v.recErr = result.RecommendationErr
		if result.Recommendation != nil {
			v.recommendation = result.Recommendation
			v.publish(shared.NewRecommendationReadyEvent(res.ID, result.Recommendation.Message, len(result.Recommendation.Actions)))
		}
		v.notifyLocked()
	})
}

// resolve finds or creates the session in the background. Failure leaves the
// viewer Idle with Begin unavailable.
func (v *Viewer) resolve(ctx context.Context, ep uint64, id shared.ResourceID) {
	sessionID, err := v.registry.ResolveOrCreate(ctx, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.epoch.Load() != ep {
		return
	}
	if err != nil {
		v.logger.Warn("session resolution failed", logger.ResourceID(id.String()), logger.Epoch(ep), logger.Err(err))
		v.lastErr = err
		v.notifyLocked()
		return
	}

	v.sessionID = sessionID
	v.publish(shared.NewSessionResolvedEvent(id, sessionID))
	_ = v.fireLocked(monitoring.TriggerSessionReady)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOOP CALLBACKS
// These run on loop goroutines that Stop waits for, so they never take v.mu.
// ══════════════════════════════════════════════════════════════════════════════

func (v *Viewer) onReadout(ep uint64) ReadoutFunc {
	resourceID, sessionID := v.resourceIDLocked(), v.sessionID
	return func(r *monitoring.Readout) {
		if v.epoch.Load() != ep || r == nil {
			return
		}
		v.publish(shared.NewFrameAnalyzedEvent(resourceID, sessionID, r.Score, r.State))
	}
}

func (v *Viewer) onTick(ep uint64) func(time.Duration) {
	resourceID := v.resourceIDLocked()
	return func(remaining time.Duration) {
		if v.epoch.Load() != ep {
			return
		}
		v.publish(shared.NewCountdownTickEvent(resourceID, remaining))
	}
}

// onZero runs on its own goroutine, after the countdown goroutine exited.
func (v *Viewer) onZero(ep uint64) func() {
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.epoch.Load() != ep || v.state != monitoring.StateMonitoring {
			return
		}
		if err := v.fireLocked(monitoring.TriggerElapsed); err != nil {
			v.logger.Warn("elapsed transition failed", logger.Err(err))
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (v *Viewer) spawn(fn func()) {
	v.bg.Add(1)
	go func() {
		defer v.bg.Done()
		fn()
	}()
}

func (v *Viewer) record(entry monitoring.JournalEntry) {
	if v.journal == nil || entry.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.journal.Save(ctx, &entry); err != nil {
		v.logger.Warn("journal write failed", logger.SessionID(entry.SessionID.String()), logger.Err(err))
	}
}

func (v *Viewer) publish(event shared.Event) {
	if v.events == nil {
		return
	}
	if err := v.events.Publish(event); err != nil {
		v.logger.Debug("event not published", slog.String("type", string(event.EventType())), logger.Err(err))
	}
}

func (v *Viewer) notifyLocked() {
	close(v.changed)
	v.changed = make(chan struct{})
}

func (v *Viewer) resourceIDLocked() shared.ResourceID {
	if v.resource == nil {
		return ""
	}
	return v.resource.ID
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATION
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a consistent copy of the viewer for presentation.
type Snapshot struct {
	State          monitoring.State
	Epoch          uint64
	Resource       *monitoring.Resource
	SessionID      shared.SessionID
	CanBegin       bool // false after a completed run until the next Mount
	ConsentVisible bool
	Duration       time.Duration
	Remaining      time.Duration
	Preview        image.Rectangle
	Capture        CaptureStats
	Readout        *monitoring.Readout
	Completed      bool
	Score          *monitoring.CombinedScore
	Recommendation *monitoring.Recommendation

	Err               error
	ScoreErr          error
	RecommendationErr error

	// Message is the one line shown to the user.
	Message string
}

// Snapshot returns the current view.
func (v *Viewer) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *Viewer) snapshotLocked() Snapshot {
	s := Snapshot{
		State:             v.state,
		Epoch:             v.epoch.Load(),
		SessionID:         v.sessionID,
		ConsentVisible:    v.consentVisible,
		Duration:          v.duration,
		Preview:           v.preview,
		Completed:         v.completed,
		Score:             v.score,
		Recommendation:    v.recommendation,
		Err:               v.lastErr,
		ScoreErr:          v.scoreErr,
		RecommendationErr: v.recErr,
	}
	if v.resource != nil {
		res := *v.resource
		s.Resource = &res
		s.CanBegin = res.CanOfferMonitoring() && !v.sessionID.IsZero() &&
			monitoring.CanTrigger(v.state, monitoring.TriggerBegin)
	}
	if v.state == monitoring.StateMonitoring {
		s.Remaining = v.countdown.Remaining()
	}
	if v.state.HoldsCamera() || v.state == monitoring.StateFinalizing || v.completed {
		s.Capture = v.capture.Stats()
		s.Readout = v.capture.LastReadout()
	}

	switch {
	case s.Err != nil:
		s.Message = monitoring.StatusMessage(s.State, s.Err)
	case s.Completed && s.State == monitoring.StateIdle:
		s.Message = monitoring.CompletedMessage
	case v.resource != nil && v.resource.CanOfferMonitoring() && s.State == monitoring.StateIdle:
		s.Message = "Preparing monitoring session..."
	default:
		s.Message = monitoring.StatusMessage(s.State, nil)
	}
	return s
}

// WaitFor blocks until cond holds for a snapshot or ctx ends.
func (v *Viewer) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		v.mu.Lock()
		snap := v.snapshotLocked()
		changed := v.changed
		v.mu.Unlock()

		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}
