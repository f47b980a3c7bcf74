package monitor

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
	"github.com/learnwatch/attention-monitor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEDIA ACQUISITION
// ══════════════════════════════════════════════════════════════════════════════

// Media owns the single camera stream of a viewer.
type Media struct {
	device monitoring.CameraDevice
	logger *slog.Logger

	mu       sync.Mutex
	stream   monitoring.CameraStream
	acquired int64
}

// NewMedia creates a Media for device.
func NewMedia(device monitoring.CameraDevice, log *slog.Logger) *Media {
	if log == nil {
		log = slog.Default()
	}
	return &Media{device: device, logger: log.With(logger.Component("media"))}
}

// Acquire opens the camera. It must be called from the consent-accept path.
// Holding a stream already returns it unchanged. Failures match one of
// shared.ErrPermissionDenied, shared.ErrDeviceUnavailable or shared.ErrNotSupported.
func (m *Media) Acquire(ctx context.Context) (monitoring.CameraStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return m.stream, nil
	}
	if m.device == nil {
		return nil, shared.ErrCameraUnsupported
	}

	stream, err := m.device.Open(ctx)
	if err != nil {
		if !shared.IsCameraFailure(err) {
			err = shared.ErrCameraUnavailable.Wrap(err)
		}
		m.logger.Warn("camera acquisition failed", logger.Err(err))
		return nil, err
	}
	m.stream = stream
	m.acquired++
	m.logger.Debug("camera acquired")
	return stream, nil
}

// Release stops every track of the held stream. It is idempotent.
func (m *Media) Release() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		m.logger.Warn("camera release failed", logger.Err(err))
		return err
	}
	m.logger.Debug("camera released")
	return nil
}

// Stream returns the held stream, nil when none.
func (m *Media) Stream() monitoring.CameraStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Live reports whether a stream is held.
func (m *Media) Live() bool {
	return m.Stream() != nil
}

// Acquisitions returns how many times a stream was opened.
func (m *Media) Acquisitions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

// errStreamNotReady is returned by AwaitReady when ctx ends first.
var errStreamNotReady = errors.New("stream did not deliver a sized frame")

// AwaitReady polls stream until it delivers a frame with non-zero dimensions
// and returns those bounds. A preview is attached only after this returns.
func AwaitReady(ctx context.Context, stream monitoring.CameraStream, poll time.Duration) (image.Rectangle, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		img, err := stream.Snapshot()
		if err != nil {
			return image.Rectangle{}, err
		}
		if img != nil && !img.Bounds().Empty() {
			return img.Bounds(), nil
		}

		select {
		case <-ctx.Done():
			return image.Rectangle{}, errors.Join(errStreamNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}
