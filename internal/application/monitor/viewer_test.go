package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/persistence/memory"
)

type viewerFixture struct {
	backend   *fakeBackend
	device    *fakeDevice
	journal   *memory.Journal
	events    *recorder
	capture   *CaptureScheduler
	countdown *Countdown
	media     *Media
}

func defaultResources() []monitoring.Resource {
	return []monitoring.Resource{
		{ID: "res-1", Name: "Fractions", Kind: monitoring.ResourceVideo, LessonID: "lesson-1", AllowsMonitoring: true, Evaluable: true},
		{ID: "res-2", Name: "Decimals", Kind: monitoring.ResourcePDF, LessonID: "lesson-1", AllowsMonitoring: true, Evaluable: true},
		{ID: "res-plain", Name: "Reading", Kind: monitoring.ResourcePDF, LessonID: "lesson-1", AllowsMonitoring: false},
		{ID: "res-practice", Name: "Practice", Kind: monitoring.ResourceSimulator, LessonID: "lesson-1", AllowsMonitoring: true, Evaluable: false},
	}
}

func newViewerFixture(t *testing.T) (*Viewer, *viewerFixture) {
	t.Helper()

	fx := &viewerFixture{
		backend: newFakeBackend(),
		device:  &fakeDevice{warmup: 1},
		journal: memory.NewJournal(),
		events:  &recorder{},
	}
	for _, res := range defaultResources() {
		fx.backend.addResource(res)
	}
	fx.capture = NewCaptureScheduler(fx.backend, CaptureConfig{
		Interval:     5 * time.Millisecond,
		FrameTimeout: time.Second,
		MaxInFlight:  2,
		Encode:       fakeEncode,
	})
	fx.countdown = NewCountdown(5 * time.Millisecond)
	fx.media = NewMedia(fx.device, nil)

	v := NewViewer(ViewerConfig{
		Registry: NewRegistry(RegistryConfig{
			Student:   "student-1",
			Resources: fx.backend,
			Sessions:  fx.backend,
			Cache:     memory.NewSessionCache(time.Minute, time.Minute),
		}),
		Sessions:        fx.backend,
		Media:           fx.media,
		Capture:         fx.capture,
		Countdown:       fx.countdown,
		Reconciler:      NewReconciler("student-1", fx.backend, nil),
		Journal:         fx.journal,
		Events:          fx.events,
		DefaultDuration: 80 * time.Millisecond,
		ReadyTimeout:    time.Second,
		FinalizeTimeout: time.Second,
	})
	t.Cleanup(v.Close)
	return v, fx
}

func waitFor(t *testing.T, v *Viewer, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := v.WaitFor(ctx, cond)
	require.NoError(t, err, "stuck in %s (err=%v)", snap.State, snap.Err)
	return snap
}

func inState(s monitoring.State) func(Snapshot) bool {
	return func(snap Snapshot) bool { return snap.State == s }
}

func (fx *viewerFixture) assertQuiet(t *testing.T) {
	t.Helper()
	assert.False(t, fx.capture.Running(), "capture loop still running")
	assert.False(t, fx.countdown.Running(), "countdown still running")
	assert.False(t, fx.media.Live(), "stream still held")
	assert.Zero(t, fx.device.live(), "camera tracks still live")
}

func (fx *viewerFixture) entries(t *testing.T) []*monitoring.JournalEntry {
	t.Helper()
	list, err := fx.journal.ListByStudent(context.Background(), "student-1", 0)
	require.NoError(t, err)
	return list
}

// ══════════════════════════════════════════════════════════════════════════════
// HAPPY PATH
// ══════════════════════════════════════════════════════════════════════════════

func TestViewer_FullCycle(t *testing.T) {
	v, fx := newViewerFixture(t)

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	snap := waitFor(t, v, inState(monitoring.StateReadyToStart))
	assert.True(t, snap.CanBegin)
	assert.Equal(t, shared.SessionID("sess-res-1"), snap.SessionID)
	assert.Equal(t, 80*time.Millisecond, snap.Duration)

	require.NoError(t, v.Begin())
	snap = v.Snapshot()
	assert.Equal(t, monitoring.StateAwaitingConsent, snap.State)
	assert.True(t, snap.ConsentVisible)
	assert.Zero(t, fx.device.opens())

	require.NoError(t, v.Accept())
	snap = v.Snapshot()
	assert.Equal(t, monitoring.StateMonitoring, snap.State)
	assert.False(t, snap.ConsentVisible)
	assert.True(t, fx.capture.Running())
	assert.True(t, fx.countdown.Running())
	assert.Equal(t, 1, fx.device.opens())

	snap = waitFor(t, v, func(s Snapshot) bool {
		return s.Completed && s.State == monitoring.StateIdle && s.Recommendation != nil
	})
	assert.Equal(t, monitoring.CompletedMessage, snap.Message)
	require.NotNil(t, snap.Score)
	assert.Equal(t, 74, snap.Score.Combined)
	assert.NoError(t, snap.ScoreErr)
	fx.assertQuiet(t)

	_, creates, _, finishes, frames, scores, _ := fx.backend.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, finishes)
	assert.Equal(t, 1, scores)
	assert.Positive(t, frames)
	assert.Eventually(t, func() bool {
		_, _, starts, _, _, _, _ := fx.backend.counts()
		return starts == 1
	}, time.Second, 5*time.Millisecond)

	entries := fx.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, monitoring.StatusFinished, entries[0].Status)
	assert.Equal(t, shared.SessionID("sess-res-1"), entries[0].SessionID)
	require.NotNil(t, entries[0].Combined)
	assert.Equal(t, 74, *entries[0].Combined)
	assert.Positive(t, entries[0].FramesSent)

	assert.Equal(t, 1, fx.events.count(shared.EventMonitoringStarted))
	assert.Equal(t, 1, fx.events.count(shared.EventMonitoringEnded))
	assert.Equal(t, 1, fx.events.count(shared.EventScoreReconciled))
	assert.Equal(t, 1, fx.events.count(shared.EventRecommendationReady))
	assert.Positive(t, fx.events.count(shared.EventCountdownTick))
}

func TestViewer_RemountResolvesSameSession(t *testing.T) {
	v, fx := newViewerFixture(t)
	ctx := context.Background()

	require.NoError(t, v.Mount(ctx, "res-1"))
	first := waitFor(t, v, inState(monitoring.StateReadyToStart)).SessionID

	require.NoError(t, v.Mount(ctx, "res-1"))
	second := waitFor(t, v, inState(monitoring.StateReadyToStart)).SessionID

	assert.Equal(t, first, second)
	_, creates, _, _, _, _, _ := fx.backend.counts()
	assert.Equal(t, 1, creates)
}

func TestViewer_CompletedRunNeedsRemount(t *testing.T) {
	v, _ := newViewerFixture(t)
	ctx := context.Background()

	require.NoError(t, v.Mount(ctx, "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	snap := waitFor(t, v, func(s Snapshot) bool { return s.Completed && s.State == monitoring.StateIdle })
	assert.False(t, snap.CanBegin)
	assert.ErrorIs(t, v.Begin(), shared.ErrIllegalTransition)

	require.NoError(t, v.Mount(ctx, "res-1"))
	snap = waitFor(t, v, inState(monitoring.StateReadyToStart))
	assert.True(t, snap.CanBegin)
	require.NoError(t, v.Begin())
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSENT
// ══════════════════════════════════════════════════════════════════════════════

func TestViewer_NoCameraWithoutAccept(t *testing.T) {
	v, fx := newViewerFixture(t)

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))

	require.NoError(t, v.Begin())
	require.NoError(t, v.Decline())

	snap := v.Snapshot()
	assert.Equal(t, monitoring.StateReadyToStart, snap.State)
	assert.False(t, snap.ConsentVisible)
	assert.Zero(t, fx.device.opens())
	assert.False(t, fx.capture.Running())

	assert.ErrorIs(t, v.Accept(), shared.ErrIllegalTransition)
	assert.Zero(t, fx.device.opens())
}

func TestViewer_IllegalActions(t *testing.T) {
	v, _ := newViewerFixture(t)

	assert.ErrorIs(t, v.Accept(), shared.ErrIllegalTransition)
	assert.ErrorIs(t, v.Decline(), shared.ErrIllegalTransition)
	assert.ErrorIs(t, v.Begin(), shared.ErrMonitoringNotAllowed)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURES
// ══════════════════════════════════════════════════════════════════════════════

func TestViewer_AcquireFailureThenRetry(t *testing.T) {
	v, fx := newViewerFixture(t)
	fx.device.openErr = shared.ErrCameraPermission

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())

	err := v.Accept()
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	snap := v.Snapshot()
	assert.Equal(t, monitoring.StateError, snap.State)
	assert.True(t, snap.CanBegin)
	assert.NotEmpty(t, snap.Message)
	fx.assertQuiet(t)

	fx.device.mu.Lock()
	fx.device.openErr = nil
	fx.device.mu.Unlock()

	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())
	snap = v.Snapshot()
	assert.Equal(t, monitoring.StateMonitoring, snap.State)
	assert.NoError(t, snap.Err)
}

func TestViewer_AllFramesFailingStillCompletes(t *testing.T) {
	v, fx := newViewerFixture(t)
	fx.backend.frameErr = errors.New("analyzer down")

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	snap := waitFor(t, v, func(s Snapshot) bool { return s.Completed })
	assert.Nil(t, snap.Readout)
	assert.Positive(t, snap.Capture.Failed)
	fx.assertQuiet(t)

	_, _, _, finishes, _, _, _ := fx.backend.counts()
	assert.Equal(t, 1, finishes)
}

func TestViewer_FinalizeFailureIsNotRetried(t *testing.T) {
	v, fx := newViewerFixture(t)
	fx.backend.finishErr = shared.ErrServiceUnavailable

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	snap := waitFor(t, v, inState(monitoring.StateError))
	assert.ErrorIs(t, snap.Err, shared.ErrFinalize)
	assert.False(t, snap.Completed)
	assert.Nil(t, snap.Score)
	fx.assertQuiet(t)

	_, _, _, finishes, _, scores, _ := fx.backend.counts()
	assert.Equal(t, 1, finishes)
	assert.Zero(t, scores)

	entries := fx.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, monitoring.StatusFinished, entries[0].Status)
	assert.NotEmpty(t, entries[0].Message)
}

func TestViewer_SessionResolutionFailure(t *testing.T) {
	v, fx := newViewerFixture(t)
	fx.backend.findErr = shared.ErrTimeout

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	snap := waitFor(t, v, func(s Snapshot) bool { return s.Err != nil })

	assert.Equal(t, monitoring.StateIdle, snap.State)
	assert.False(t, snap.CanBegin)
	assert.ErrorIs(t, snap.Err, shared.ErrSessionResolution)
	assert.ErrorIs(t, v.Begin(), shared.ErrSessionResolution)
	assert.Zero(t, fx.device.opens())
}

func TestViewer_UnknownResource(t *testing.T) {
	v, _ := newViewerFixture(t)

	err := v.Mount(context.Background(), "nope")
	assert.ErrorIs(t, err, shared.ErrResourceFetch)
	assert.True(t, shared.IsNotFound(err))
	assert.ErrorIs(t, v.Snapshot().Err, shared.ErrResourceFetch)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOURCE FLAGS
// ══════════════════════════════════════════════════════════════════════════════

func TestViewer_NotMonitorableNeverBegins(t *testing.T) {
	v, fx := newViewerFixture(t)

	require.NoError(t, v.Mount(context.Background(), "res-plain"))
	snap := v.Snapshot()
	assert.Equal(t, monitoring.StateIdle, snap.State)
	assert.False(t, snap.CanBegin)
	assert.ErrorIs(t, v.Begin(), shared.ErrMonitoringNotAllowed)

	v.Close()
	find, creates, _, _, _, _, _ := fx.backend.counts()
	assert.Zero(t, find)
	assert.Zero(t, creates)
	assert.Zero(t, fx.device.opens())
}

func TestViewer_NotEvaluableSkipsScore(t *testing.T) {
	v, fx := newViewerFixture(t)

	require.NoError(t, v.Mount(context.Background(), "res-practice"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	snap := waitFor(t, v, func(s Snapshot) bool { return s.Completed })
	v.Close()

	assert.Nil(t, snap.Score)
	_, _, _, finishes, frames, scores, recs := fx.backend.counts()
	assert.Equal(t, 1, finishes)
	assert.Positive(t, frames)
	assert.Zero(t, scores)
	assert.Zero(t, recs)

	entries := fx.entries(t)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Combined)
}

// ══════════════════════════════════════════════════════════════════════════════
// TEARDOWN
// ══════════════════════════════════════════════════════════════════════════════

func TestViewer_UnmountDuringMonitoringCancels(t *testing.T) {
	v, fx := newViewerFixture(t)

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	v.Unmount()
	fx.assertQuiet(t)
	assert.Equal(t, monitoring.StateIdle, v.Snapshot().State)

	// the countdown of the old run must not finalize anything
	time.Sleep(150 * time.Millisecond)
	_, _, _, finishes, _, _, _ := fx.backend.counts()
	assert.Zero(t, finishes)
	assert.Equal(t, monitoring.StateIdle, v.Snapshot().State)

	v.Close()
	entries := fx.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, monitoring.StatusCancelled, entries[0].Status)
	assert.Equal(t, 1, fx.events.count(shared.EventMonitoringEnded))
}

func TestViewer_SwitchResourceMidRun(t *testing.T) {
	v, fx := newViewerFixture(t)
	ctx := context.Background()

	require.NoError(t, v.Mount(ctx, "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())
	before := v.Snapshot().Epoch

	require.NoError(t, v.Mount(ctx, "res-2"))
	fx.assertQuiet(t)

	snap := waitFor(t, v, inState(monitoring.StateReadyToStart))
	assert.Greater(t, snap.Epoch, before)
	assert.Equal(t, shared.ResourceID("res-2"), snap.Resource.ID)
	assert.Equal(t, shared.SessionID("sess-res-2"), snap.SessionID)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, monitoring.StateReadyToStart, v.Snapshot().State)
	_, _, _, finishes, _, _, _ := fx.backend.counts()
	assert.Zero(t, finishes)
}

func TestViewer_CloseIsIdempotent(t *testing.T) {
	v, fx := newViewerFixture(t)

	require.NoError(t, v.Mount(context.Background(), "res-1"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	v.Close()
	v.Close()
	fx.assertQuiet(t)
}
