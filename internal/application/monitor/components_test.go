package monitor

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/persistence/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSENT GATE
// ══════════════════════════════════════════════════════════════════════════════

func TestConsentGate_AcceptRequiresRequest(t *testing.T) {
	g := NewConsentGate()
	called := false

	err := g.Accept(func() error { called = true; return nil })
	assert.ErrorIs(t, err, shared.ErrIllegalTransition)
	assert.False(t, called)
	assert.False(t, g.Granted())
}

func TestConsentGate_AcceptRunsCallbackInline(t *testing.T) {
	g := NewConsentGate()
	require.NoError(t, g.Request())

	var grantedInside bool
	require.NoError(t, g.Accept(func() error {
		grantedInside = g.Granted()
		return nil
	}))
	assert.True(t, grantedInside)
	assert.Equal(t, ConsentAccepted, g.State())

	g.Reset()
	assert.Equal(t, ConsentIdle, g.State())
}

func TestConsentGate_Decline(t *testing.T) {
	g := NewConsentGate()
	assert.ErrorIs(t, g.Decline(), shared.ErrIllegalTransition)

	require.NoError(t, g.Request())
	require.NoError(t, g.Decline())
	assert.Equal(t, ConsentIdle, g.State())
	assert.False(t, g.Granted())
}

func TestConsentGate_CallbackErrorPropagates(t *testing.T) {
	g := NewConsentGate()
	require.NoError(t, g.Request())
	boom := errors.New("boom")
	assert.ErrorIs(t, g.Accept(func() error { return boom }), boom)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

func newTestRegistry(b *fakeBackend, cache monitoring.SessionCache) *Registry {
	return NewRegistry(RegistryConfig{
		Student:   "student-1",
		Resources: b,
		Sessions:  b,
		Cache:     cache,
	})
}

func TestRegistry_ResolveOrCreateIsStable(t *testing.T) {
	b := newFakeBackend()
	r := newTestRegistry(b, memory.NewSessionCache(time.Minute, time.Minute))
	ctx := context.Background()

	first, err := r.ResolveOrCreate(ctx, "res-1")
	require.NoError(t, err)
	second, err := r.ResolveOrCreate(ctx, "res-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	_, creates, _, _, _, _, _ := b.counts()
	assert.Equal(t, 1, creates)
}

func TestRegistry_ExistingSessionIsReused(t *testing.T) {
	b := newFakeBackend()
	b.sessions["res-1"] = "existing"
	r := newTestRegistry(b, nil)

	id, err := r.ResolveOrCreate(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, shared.SessionID("existing"), id)
	_, creates, _, _, _, _, _ := b.counts()
	assert.Zero(t, creates)
}

func TestRegistry_ConcurrentResolutionsAgree(t *testing.T) {
	b := newFakeBackend()
	b.createDelay = 20 * time.Millisecond
	r := newTestRegistry(b, nil)

	var wg sync.WaitGroup
	ids := make([]shared.SessionID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.ResolveOrCreate(context.Background(), "res-1")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.False(t, ids[0].IsZero())
}

func TestRegistry_CancelledCallerDoesNotFailOthers(t *testing.T) {
	b := newFakeBackend()
	b.createDelay = 50 * time.Millisecond
	r := newTestRegistry(b, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.ResolveOrCreate(firstCtx, "res-1")
		firstErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	secondID := make(chan shared.SessionID, 1)
	go func() {
		id, err := r.ResolveOrCreate(context.Background(), "res-1")
		assert.NoError(t, err)
		secondID <- id
	}()

	time.Sleep(10 * time.Millisecond)
	cancelFirst()

	err := <-firstErr
	assert.ErrorIs(t, err, shared.ErrSessionResolution)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, shared.SessionID("sess-res-1"), <-secondID)
	_, creates, _, _, _, _, _ := b.counts()
	assert.Equal(t, 1, creates)
}

func TestRegistry_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("find fails", func(t *testing.T) {
		b := newFakeBackend()
		b.findErr = shared.ErrServiceUnavailable
		id, err := newTestRegistry(b, nil).ResolveOrCreate(ctx, "res-1")
		assert.True(t, id.IsZero())
		assert.ErrorIs(t, err, shared.ErrSessionResolution)
		assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	})

	t.Run("not found then create fails", func(t *testing.T) {
		b := newFakeBackend()
		b.findErr = shared.ErrNotFound
		b.createErr = errors.New("500")
		_, err := newTestRegistry(b, nil).ResolveOrCreate(ctx, "res-1")
		assert.ErrorIs(t, err, shared.ErrSessionResolution)
	})

	t.Run("empty resource", func(t *testing.T) {
		_, err := newTestRegistry(newFakeBackend(), nil).ResolveOrCreate(ctx, "")
		assert.ErrorIs(t, err, shared.ErrSessionResolution)
	})
}

func TestRegistry_ResourceIsCached(t *testing.T) {
	b := newFakeBackend()
	b.addResource(monitoring.Resource{ID: "res-1", Name: "Intro", AllowsMonitoring: true})
	r := newTestRegistry(b, memory.NewSessionCache(time.Minute, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := r.Resource(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, "Intro", res.Name)
	}
	assert.Equal(t, 1, b.resourceCalls)

	_, err := r.Resource(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrResourceFetch)
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// MEDIA ACQUISITION
// ══════════════════════════════════════════════════════════════════════════════

func TestMedia_SingleStream(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMedia(dev, nil)
	ctx := context.Background()

	s1, err := m.Acquire(ctx)
	require.NoError(t, err)
	s2, err := m.Acquire(ctx)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, dev.opens())
	assert.True(t, m.Live())

	require.NoError(t, m.Release())
	require.NoError(t, m.Release())
	assert.False(t, m.Live())
	assert.Zero(t, dev.live())
}

func TestMedia_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := NewMedia(nil, nil).Acquire(ctx)
	assert.ErrorIs(t, err, shared.ErrNotSupported)

	_, err = NewMedia(&fakeDevice{openErr: shared.ErrCameraPermission}, nil).Acquire(ctx)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = NewMedia(&fakeDevice{openErr: errors.New("ioctl failed")}, nil).Acquire(ctx)
	assert.ErrorIs(t, err, shared.ErrDeviceUnavailable)
	assert.True(t, shared.IsCameraFailure(err))
}

func TestAwaitReady(t *testing.T) {
	stream := &fakeStream{warmup: 3}
	bounds, err := AwaitReady(context.Background(), stream, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), bounds)

	cold := &fakeStream{warmup: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = AwaitReady(ctx, cold, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ══════════════════════════════════════════════════════════════════════════════
// CAPTURE SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

func newTestCapture(sink monitoring.FrameSink) *CaptureScheduler {
	return NewCaptureScheduler(sink, CaptureConfig{
		Interval:     5 * time.Millisecond,
		FrameTimeout: time.Second,
		MaxInFlight:  4,
		Encode:       fakeEncode,
	})
}

func TestCapture_DispatchesFrames(t *testing.T) {
	b := newFakeBackend()
	c := newTestCapture(b)

	var readouts atomic.Int64
	require.NoError(t, c.Start(context.Background(), &fakeStream{warmup: 2}, "sess", func(*monitoring.Readout) {
		readouts.Add(1)
	}))
	assert.True(t, c.Running())

	require.Eventually(t, func() bool { return c.Stats().Sent >= 3 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	stats := c.Stats()
	assert.False(t, c.Running())
	assert.Equal(t, int64(2), stats.Skipped)
	assert.Equal(t, stats.Sent, readouts.Load())
	require.NotNil(t, c.LastReadout())
	assert.Equal(t, "attentive", c.LastReadout().State)
}

func TestCapture_FailuresNeverStopTheLoop(t *testing.T) {
	b := newFakeBackend()
	b.frameErr = errors.New("connection reset")
	c := newTestCapture(b)

	require.NoError(t, c.Start(context.Background(), &fakeStream{}, "sess", nil))
	require.Eventually(t, func() bool { return c.Stats().Failed >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Running())
	c.Stop()
	assert.Zero(t, c.Stats().Sent)
}

func TestCapture_NoFaceIsCounted(t *testing.T) {
	b := newFakeBackend()
	b.frameErr = shared.ErrNoFaceDetected
	c := newTestCapture(b)

	require.NoError(t, c.Start(context.Background(), &fakeStream{}, "sess", nil))
	require.Eventually(t, func() bool { return c.Stats().NoFace >= 2 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	assert.Zero(t, c.Stats().Failed)
}

func TestCapture_StartValidation(t *testing.T) {
	c := newTestCapture(newFakeBackend())
	ctx := context.Background()

	assert.Error(t, c.Start(ctx, nil, "sess", nil))
	assert.ErrorIs(t, c.Start(ctx, &fakeStream{}, "", nil), shared.ErrInvalidID)

	require.NoError(t, c.Start(ctx, &fakeStream{}, "sess", nil))
	defer c.Stop()
	assert.ErrorIs(t, c.Start(ctx, &fakeStream{}, "sess", nil), shared.ErrInvalidState)
}

// ══════════════════════════════════════════════════════════════════════════════
// COUNTDOWN
// ══════════════════════════════════════════════════════════════════════════════

func TestCountdown_ReachesZeroOnce(t *testing.T) {
	c := NewCountdown(5 * time.Millisecond)
	zero := make(chan struct{}, 4)
	var ticks atomic.Int64

	require.NoError(t, c.Start(context.Background(), 30*time.Millisecond,
		func(time.Duration) { ticks.Add(1) },
		func() { zero <- struct{}{} },
	))

	select {
	case <-zero:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never reached zero")
	}
	assert.True(t, c.Running())
	assert.Zero(t, c.Remaining())
	assert.Positive(t, ticks.Load())

	c.Stop()
	assert.False(t, c.Running())
	select {
	case <-zero:
		t.Fatal("onZero ran twice")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestCountdown_StopPreventsZero(t *testing.T) {
	c := NewCountdown(5 * time.Millisecond)
	var zero atomic.Bool

	require.NoError(t, c.Start(context.Background(), time.Hour, nil, func() { zero.Store(true) }))
	time.Sleep(15 * time.Millisecond)
	c.Stop()
	c.Stop()

	assert.False(t, zero.Load())
	assert.Greater(t, c.Remaining(), 59*time.Minute)
}

func TestCountdown_StopFromOnZero(t *testing.T) {
	c := NewCountdown(2 * time.Millisecond)
	done := make(chan struct{})
	require.NoError(t, c.Start(context.Background(), 5*time.Millisecond, nil, func() {
		c.Stop()
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop inside onZero deadlocked")
	}
}

func TestCountdown_RejectsNonPositiveDuration(t *testing.T) {
	c := NewCountdown(0)
	assert.ErrorIs(t, c.Start(context.Background(), 0, nil, nil), shared.ErrInvalidDuration)
	assert.ErrorIs(t, c.Start(context.Background(), -time.Second, nil, nil), shared.ErrValueOutOfRange)
	assert.False(t, c.Running())
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT RECONCILER
// ══════════════════════════════════════════════════════════════════════════════

func TestReconciler_NotEvaluableSkipsScore(t *testing.T) {
	b := newFakeBackend()
	r := NewReconciler("student-1", b, nil)

	out := r.Reconcile(context.Background(), monitoring.Resource{ID: "res-1", LessonID: "l1"}, nil)
	assert.Nil(t, out.Score)
	assert.NoError(t, out.ScoreErr)
	_, _, _, _, _, scores, recs := b.counts()
	assert.Zero(t, scores)
	assert.Zero(t, recs)
}

func TestReconciler_ScoreThenRecommendation(t *testing.T) {
	b := newFakeBackend()
	r := NewReconciler("student-1", b, nil)
	res := monitoring.Resource{ID: "res-1", LessonID: "l1", Evaluable: true}

	var seen *monitoring.CombinedScore
	out := r.Reconcile(context.Background(), res, func(s monitoring.CombinedScore) { seen = &s })

	require.NotNil(t, out.Score)
	assert.Equal(t, 74, out.Score.Combined)
	require.NotNil(t, seen)
	assert.Equal(t, out.Score.Combined, seen.Combined)
	require.NotNil(t, out.Recommendation)
	assert.Contains(t, out.Recommendation.Message, "l1")
}

func TestReconciler_RecommendationFailureKeepsScore(t *testing.T) {
	b := newFakeBackend()
	b.recommendErr = errors.New("generator down")
	r := NewReconciler("student-1", b, nil)

	out := r.Reconcile(context.Background(), monitoring.Resource{ID: "res-1", LessonID: "l1", Evaluable: true}, nil)
	require.NotNil(t, out.Score)
	assert.Nil(t, out.Recommendation)
	assert.ErrorIs(t, out.RecommendationErr, shared.ErrRecommendation)
}

func TestReconciler_ScoreOnly(t *testing.T) {
	b := newFakeBackend()
	r := NewReconciler("student-1", b, nil).ScoreOnly()

	out := r.Reconcile(context.Background(), monitoring.Resource{ID: "res-1", LessonID: "l1", Evaluable: true}, nil)
	require.NotNil(t, out.Score)
	assert.Nil(t, out.Recommendation)
	assert.NoError(t, out.RecommendationErr)
	_, _, _, _, _, _, recs := b.counts()
	assert.Zero(t, recs)
}

func TestReconciler_Failures(t *testing.T) {
	b := newFakeBackend()
	r := NewReconciler("student-1", b, nil)
	ctx := context.Background()

	_, err := r.Recommend(ctx, monitoring.Resource{ID: "res-1"}, monitoring.CombinedScore{})
	assert.ErrorIs(t, err, shared.ErrRecommendation)

	b.set(func(b *fakeBackend) { b.scoreErr = shared.ErrTimeout })
	out := r.Reconcile(ctx, monitoring.Resource{ID: "res-1", LessonID: "l1", Evaluable: true}, nil)
	assert.ErrorIs(t, out.ScoreErr, shared.ErrScoreFetch)
	assert.True(t, shared.IsRetryable(out.ScoreErr))
	_, _, _, _, _, _, recs := b.counts()
	assert.Zero(t, recs)
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestGetHistoryHandler(t *testing.T) {
	j := memory.NewJournal()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	combined := 81

	require.NoError(t, j.Save(ctx, &monitoring.JournalEntry{
		StudentID: "st", ResourceID: "r1", SessionID: "s1",
		Status: monitoring.StatusFinished, StartedAt: base, EndedAt: base.Add(30 * time.Second),
		FramesSent: 28, FramesFailed: 1, FramesSkipped: 1, Combined: &combined,
	}))
	require.NoError(t, j.Save(ctx, &monitoring.JournalEntry{
		StudentID: "st", ResourceID: "r2", SessionID: "s2",
		Status: monitoring.StatusCancelled, StartedAt: base.Add(time.Hour), EndedAt: base.Add(time.Hour + 5*time.Second),
	}))

	h := NewGetHistoryHandler(j)
	dto, err := h.Handle(ctx, GetHistoryQuery{StudentID: "st"})
	require.NoError(t, err)

	require.Len(t, dto.Runs, 2)
	assert.Equal(t, "r2", dto.Runs[0].ResourceID)
	assert.Equal(t, 5*time.Second, dto.Runs[0].Elapsed)
	assert.Equal(t, int64(2), dto.Runs[1].FramesLost)
	assert.Equal(t, 1, dto.Finished)
	assert.Equal(t, 1, dto.Cancelled)
	require.NotNil(t, dto.AverageCombined)
	assert.Equal(t, 81, *dto.AverageCombined)

	_, err = h.Handle(ctx, GetHistoryQuery{})
	assert.True(t, shared.IsValidation(err))
}
