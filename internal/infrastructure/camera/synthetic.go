package camera

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// SyntheticConfig configures the test pattern camera.
type SyntheticConfig struct {
	Width        int
	Height       int
	WarmupFrames int

	// Deny makes Open fail as if the user refused camera access.
	Deny bool
}

// Synthetic renders a moving gradient.
type Synthetic struct {
	cfg  SyntheticConfig
	live liveCounter
}

// NewSynthetic creates a synthetic camera. Non-positive sizes default to 640x480.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.WarmupFrames < 0 {
		cfg.WarmupFrames = 0
	}
	return &Synthetic{cfg: cfg}
}

// Open starts a stream.
func (s *Synthetic) Open(ctx context.Context) (monitoring.CameraStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Deny {
		return nil, shared.ErrCameraPermission
	}
	return &syntheticStream{
		track:  newTrack(&s.live),
		cfg:    s.cfg,
		warmup: s.cfg.WarmupFrames,
	}, nil
}

// LiveStreams implements Device.
func (s *Synthetic) LiveStreams() int {
	return s.live.LiveStreams()
}

type syntheticStream struct {
	*track
	cfg SyntheticConfig

	mu     sync.Mutex
	warmup int
	seq    int
}

func (s *syntheticStream) Snapshot() (image.Image, error) {
	if s.isClosed() {
		return nil, errStreamClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warmup > 0 {
		s.warmup--
		return image.NewRGBA(image.Rectangle{}), nil
	}
	s.seq++

	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	shift := s.seq * 8
	for y := 0; y < s.cfg.Height; y++ {
		for x := 0; x < s.cfg.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + shift) % 256),
				G: uint8((y + shift) % 256),
				B: uint8(s.seq % 256),
				A: 255,
			})
		}
	}
	return img, nil
}

func (s *syntheticStream) Close() error {
	s.stop()
	return nil
}
