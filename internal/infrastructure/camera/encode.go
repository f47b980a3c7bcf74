package camera

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// EncodeDataURL encodes img as a JPEG data URL, the frame format the
// analysis endpoint expects. Quality is clamped to 1..100.
func EncodeDataURL(img image.Image, quality int) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", fmt.Errorf("encode: empty frame")
	}
	quality = min(max(quality, 1), 100)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	out := make([]byte, len(dataURLPrefix)+base64.StdEncoding.EncodedLen(buf.Len()))
	copy(out, dataURLPrefix)
	base64.StdEncoding.Encode(out[len(dataURLPrefix):], buf.Bytes())
	return string(out), nil
}
