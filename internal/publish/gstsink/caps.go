package gstsink

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
)

var (
	ErrUnknownEncoding = errors.New("gstsink: no caps for encoding")
	ErrShortFrame      = errors.New("gstsink: frame data shorter than its geometry")
)

type videoFormat struct {
	media         string
	format        string
	bytesPerPixel int
}

// encodings maps frame encodings to GStreamer media types and formats
var encodings = map[string]videoFormat{
	"rgb8":        {"video/x-raw", "RGB", 3},
	"bgr8":        {"video/x-raw", "BGR", 3},
	"rgba8":       {"video/x-raw", "RGBA", 4},
	"bgra8":       {"video/x-raw", "BGRA", 4},
	"mono8":       {"video/x-raw", "GRAY8", 1},
	"mono16":      {"video/x-raw", "GRAY16_LE", 2},
	"yuv422_yuy2": {"video/x-raw", "YUY2", 2},
	"yuv422":      {"video/x-raw", "UYVY", 2},
	"bayer_rggb8": {"video/x-bayer", "rggb", 1},
	"bayer_bggr8": {"video/x-bayer", "bggr", 1},
	"bayer_gbrg8": {"video/x-bayer", "gbrg", 1},
	"bayer_grbg8": {"video/x-bayer", "grbg", 1},
}

// CapsFor returns the caps string describing frames like f
func CapsFor(f emitter.Frame) (string, error) {
	vf, ok := encodings[f.Encoding]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownEncoding, f.Encoding)
	}
	format := vf.format
	if format == "GRAY16_LE" && f.BigEndian {
		format = "GRAY16_BE"
	}
	return fmt.Sprintf("%s,format=%s,width=%d,height=%d,framerate=0/1",
		vf.media, format, f.Width, f.Height), nil
}

// Stride returns the row stride GStreamer expects for a packed image:
// the row length rounded up to a multiple of 4
func Stride(width, bytesPerPixel int) int {
	return (width*bytesPerPixel + 3) &^ 3
}

// Repack returns the frame data laid out with GStreamer's default stride.
// Data already in that layout is returned as is.
func Repack(f emitter.Frame) ([]byte, error) {
	vf, ok := encodings[f.Encoding]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEncoding, f.Encoding)
	}
	rowLen := f.Width * vf.bytesPerPixel
	stride := Stride(f.Width, vf.bytesPerPixel)
	if f.Step < rowLen || len(f.Data) < (f.Height-1)*f.Step+rowLen {
		return nil, fmt.Errorf("%w: %dx%d step %d, %d bytes",
			ErrShortFrame, f.Width, f.Height, f.Step, len(f.Data))
	}
	if f.Step == stride && len(f.Data) == stride*f.Height {
		return f.Data, nil
	}

	out := make([]byte, stride*f.Height)
	for y := 0; y < f.Height; y++ {
		copy(out[y*stride:y*stride+rowLen], f.Data[y*f.Step:y*f.Step+rowLen])
	}
	return out, nil
}
