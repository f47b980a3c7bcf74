package camera

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/config"
	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

func TestSynthetic_WarmupThenFrames(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Width: 8, Height: 6, WarmupFrames: 2})

	stream, err := cam.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cam.LiveStreams())

	for i := 0; i < 2; i++ {
		img, err := stream.Snapshot()
		require.NoError(t, err)
		assert.True(t, img.Bounds().Empty(), "warm-up frame %d", i)
	}

	img, err := stream.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, 0, cam.LiveStreams())

	_, err = stream.Snapshot()
	assert.ErrorIs(t, err, shared.ErrDeviceUnavailable)
}

func TestSynthetic_Deny(t *testing.T) {
	cam := NewSynthetic(SyntheticConfig{Deny: true})

	_, err := cam.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	assert.Equal(t, 0, cam.LiveStreams())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDirectory_ReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 4, 4)
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	cam := NewDirectory(dir, 0, nil)
	stream, err := cam.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	sizes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		img, err := stream.Snapshot()
		require.NoError(t, err)
		sizes = append(sizes, img.Bounds().Dx())
	}
	assert.Equal(t, []int{2, 4, 2}, sizes)
}

func TestDirectory_OpenFailures(t *testing.T) {
	_, err := NewDirectory(filepath.Join(t.TempDir(), "missing"), 0, nil).Open(context.Background())
	assert.ErrorIs(t, err, shared.ErrDeviceUnavailable)

	_, err = NewDirectory(t.TempDir(), 0, nil).Open(context.Background())
	assert.ErrorIs(t, err, shared.ErrDeviceUnavailable)
}

func TestNew_Sources(t *testing.T) {
	dev, err := New(config.CameraConfig{Source: "synthetic", Width: 4, Height: 4}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Synthetic{}, dev)

	_, err = New(config.CameraConfig{Source: "webcam"}, nil)
	assert.ErrorIs(t, err, shared.ErrNotSupported)
}

func TestEncodeDataURL(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	out, err := EncodeDataURL(img, 500)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "data:image/jpeg;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, raw[:2], "JPEG SOI marker")

	_, err = EncodeDataURL(image.NewRGBA(image.Rectangle{}), 80)
	assert.Error(t, err)
}
