package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// Directory replays image files from a folder in lexical order, looping.
type Directory struct {
	dir    string
	warmup int
	logger *slog.Logger
	live   liveCounter
}

// NewDirectory creates a directory-backed camera.
func NewDirectory(dir string, warmup int, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{dir: dir, warmup: warmup, logger: log}
}

// Open lists the frames. An unreadable folder maps to a permission failure,
// a missing or empty one to an unavailable device.
func (d *Directory) Open(ctx context.Context) (monitoring.CameraStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.dir)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, shared.ErrCameraPermission.Wrap(err)
	case err != nil:
		return nil, shared.ErrCameraUnavailable.Wrap(err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(d.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, shared.ErrCameraUnavailable.Wrap(fmt.Errorf("no frames in %s", d.dir))
	}
	sort.Strings(files)

	d.logger.Debug("directory camera opened", "dir", d.dir, "frames", len(files))
	return &directoryStream{track: newTrack(&d.live), files: files, warmup: d.warmup}, nil
}

// LiveStreams implements Device.
func (d *Directory) LiveStreams() int {
	return d.live.LiveStreams()
}

type directoryStream struct {
	*track
	files []string

	mu     sync.Mutex
	warmup int
	next   int
}

func (s *directoryStream) Snapshot() (image.Image, error) {
	if s.isClosed() {
		return nil, errStreamClosed
	}

	s.mu.Lock()
	if s.warmup > 0 {
		s.warmup--
		s.mu.Unlock()
		return image.NewRGBA(image.Rectangle{}), nil
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, shared.ErrCameraUnavailable.Wrap(err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (s *directoryStream) Close() error {
	s.stop()
	return nil
}
