package monitor

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CAPTURE SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// FrameEncoder turns a captured frame into the wire representation.
type FrameEncoder func(img image.Image) (string, error)

// CaptureConfig contains configuration for a CaptureScheduler.
type CaptureConfig struct {
	// Interval between two captures. Default 1s.
	Interval time.Duration

	// FrameTimeout bounds a single upload. Default 5s.
	FrameTimeout time.Duration

	// MaxInFlight bounds concurrent uploads; extra frames are dropped. Default 4.
	MaxInFlight int

	Encode FrameEncoder
	Logger *slog.Logger
}

// DefaultCaptureConfig returns sensible defaults.
func DefaultCaptureConfig(encode FrameEncoder) CaptureConfig {
	return CaptureConfig{
		Interval:     time.Second,
		FrameTimeout: 5 * time.Second,
		MaxInFlight:  4,
		Encode:       encode,
	}
}

// CaptureStats counts what happened to each tick.
type CaptureStats struct {
	Ticks   int64 // interval ticks observed
	Skipped int64 // stream not warmed up yet
	Sent    int64 // analyzed by the backend
	NoFace  int64 // analyzed, no face found
	Failed  int64 // capture, encoding or upload failed
	Dropped int64 // over the upload budget
}

// ReadoutFunc receives the live readout of a dispatched frame.
type ReadoutFunc func(readout *monitoring.Readout)

// CaptureScheduler periodically captures a frame from the live stream and
// dispatches it without waiting for the answer. Frame loss is tolerated.
type CaptureScheduler struct {
	sink   monitoring.FrameSink
	config CaptureConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool

	ticks, skipped, sent, noFace, failed, dropped atomic.Int64
	last                                          atomic.Pointer[monitoring.Readout]
}

// NewCaptureScheduler creates a scheduler that dispatches to sink.
func NewCaptureScheduler(sink monitoring.FrameSink, config CaptureConfig) *CaptureScheduler {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.FrameTimeout <= 0 {
		config.FrameTimeout = 5 * time.Second
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 4
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CaptureScheduler{
		sink:   sink,
		config: config,
		logger: config.Logger.With(logger.Component("capture")),
	}
}

// Start begins the capture cycle. It fails when already running, when the
// stream is nil or when the session is not resolved.
func (c *CaptureScheduler) Start(ctx context.Context, stream monitoring.CameraStream, session shared.SessionID, onReadout ReadoutFunc) error {
	if stream == nil {
		return shared.NewDomainError("capture", "Start", shared.ErrInvalidState, "no live stream")
	}
	if session.IsZero() {
		return shared.NewDomainError("capture", "Start", shared.ErrInvalidID, "session is not resolved")
	}
	if c.config.Encode == nil {
		return shared.NewDomainError("capture", "Start", shared.ErrInvalidState, "no frame encoder")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.NewDomainError("capture", "Start", shared.ErrInvalidState, "capture already running")
	}

	c.resetStats()
	runCtx, cancel := context.WithCancel(ctx)
	g := &errgroup.Group{}
	c.cancel = cancel
	c.group = g
	c.running = true

	g.Go(func() error {
		c.loop(runCtx, stream, session, onReadout)
		return nil
	})
	c.logger.Debug("capture started", logger.SessionID(session.String()), slog.Duration("interval", c.config.Interval))
	return nil
}

// Stop ends the cycle and waits for the loop and every in-flight upload.
// It is idempotent.
func (c *CaptureScheduler) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, g := c.cancel, c.group
	c.running = false
	c.cancel, c.group = nil, nil
	c.mu.Unlock()

	cancel()
	_ = g.Wait()
	c.logger.Debug("capture stopped")
}

// Running reports whether the cycle is active.
func (c *CaptureScheduler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *CaptureScheduler) loop(ctx context.Context, stream monitoring.CameraStream, session shared.SessionID, onReadout ReadoutFunc) {
	uploads := &errgroup.Group{}
	uploads.SetLimit(c.config.MaxInFlight)
	defer func() { _ = uploads.Wait() }()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, uploads, stream, session, onReadout)
		}
	}
}

func (c *CaptureScheduler) tick(ctx context.Context, uploads *errgroup.Group, stream monitoring.CameraStream, session shared.SessionID, onReadout ReadoutFunc) {
	c.ticks.Add(1)

	img, err := stream.Snapshot()
	if err != nil {
		c.failed.Add(1)
		c.logger.Debug("snapshot failed", logger.Err(err))
		return
	}
	if img == nil || img.Bounds().Empty() {
		c.skipped.Add(1)
		return
	}

	frame, err := c.config.Encode(img)
	if err != nil {
		c.failed.Add(1)
		c.logger.Debug("frame encoding failed", logger.Err(err))
		return
	}

	started := uploads.TryGo(func() error {
		c.dispatch(ctx, session, frame, onReadout)
		return nil
	})
	if !started {
		c.dropped.Add(1)
	}
}

func (c *CaptureScheduler) dispatch(ctx context.Context, session shared.SessionID, frame string, onReadout ReadoutFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FrameTimeout)
	defer cancel()

	readout, err := c.sink.SendFrame(ctx, session, frame)
	switch {
	case err == nil:
		c.sent.Add(1)
		c.last.Store(readout)
		if onReadout != nil {
			onReadout(readout)
		}
	case errors.Is(err, shared.ErrNoFaceDetected):
		c.noFace.Add(1)
	case errors.Is(err, shared.ErrRateLimited):
		c.dropped.Add(1)
	case errors.Is(err, context.Canceled):
		// stopped while uploading
	default:
		c.failed.Add(1)
		c.logger.Debug("frame dispatch failed", logger.Err(shared.ErrFrameDispatch.Wrap(err)))
	}
}

// Stats returns the counters of the current or last run.
func (c *CaptureScheduler) Stats() CaptureStats {
	return CaptureStats{
		Ticks:   c.ticks.Load(),
		Skipped: c.skipped.Load(),
		Sent:    c.sent.Load(),
		NoFace:  c.noFace.Load(),
		Failed:  c.failed.Load(),
		Dropped: c.dropped.Load(),
	}
}

// LastReadout returns the most recent live readout, nil before the first.
func (c *CaptureScheduler) LastReadout() *monitoring.Readout {
	return c.last.Load()
}

func (c *CaptureScheduler) resetStats() {
	for _, n := range []*atomic.Int64{&c.ticks, &c.skipped, &c.sent, &c.noFace, &c.failed, &c.dropped} {
		n.Store(0)
	}
	c.last.Store(nil)
}
