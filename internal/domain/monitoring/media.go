package monitoring

import (
	"context"
	"image"
)

// CameraDevice grants access to a camera. Open is the permission request:
// it fails with an error wrapping shared.ErrPermissionDenied,
// shared.ErrDeviceUnavailable or shared.ErrNotSupported.
type CameraDevice interface {
	Open(ctx context.Context) (CameraStream, error)
}

// CameraStream is a live camera feed.
type CameraStream interface {
	// Snapshot returns the current frame. While the feed warms up the frame
	// may have empty bounds; callers skip such frames.
	Snapshot() (image.Image, error)

	// Close stops every track of the stream. It is idempotent.
	Close() error
}
