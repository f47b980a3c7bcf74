// Package camera provides frame sources for the attention monitor.
//
// Two sources exist: a synthetic camera that renders a moving test pattern,
// and a directory source that replays recorded JPEG/PNG frames in order.
// Both report empty frames while warming up, like a real device does before
// its first decoded frame.
package camera

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/learnwatch/attention-monitor/config"
	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// Device is a camera that counts its live streams.
type Device interface {
	monitoring.CameraDevice

	// LiveStreams returns how many opened streams are not closed yet.
	LiveStreams() int
}

// New builds the device selected by cfg.Source.
func New(cfg config.CameraConfig, log *slog.Logger) (Device, error) {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.Source {
	case "", "synthetic":
		return NewSynthetic(SyntheticConfig{
			Width:        cfg.Width,
			Height:       cfg.Height,
			WarmupFrames: cfg.WarmupFrames,
		}), nil
	case "directory":
		return NewDirectory(cfg.Directory, cfg.WarmupFrames, log), nil
	default:
		return nil, shared.ErrCameraUnsupported.Wrap(fmt.Errorf("unknown camera source %q", cfg.Source))
	}
}

// liveCounter tracks open streams for a device.
type liveCounter struct {
	n atomic.Int64
}

func (c *liveCounter) LiveStreams() int {
	return int(c.n.Load())
}

// track is embedded by streams so Close releases exactly once.
type track struct {
	closed  atomic.Bool
	counter *liveCounter
}

func newTrack(c *liveCounter) *track {
	c.n.Add(1)
	return &track{counter: c}
}

// stop reports whether this call performed the release.
func (t *track) stop() bool {
	if !t.closed.CompareAndSwap(false, true) {
		return false
	}
	t.counter.n.Add(-1)
	return true
}

func (t *track) isClosed() bool {
	return t.closed.Load()
}

var errStreamClosed = shared.NewDomainError("camera", "Snapshot", shared.ErrDeviceUnavailable, "stream is closed")
