package emitter

import "github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"

// Encoding describes how a raw pixel format is published
type Encoding struct {
	// Name is the image encoding string carried by the frame
	Name string
	// BytesPerPixel is the packed size of one pixel
	BytesPerPixel int
}

// Only uncompressed, single-plane formats are published. Compressed and
// planar formats are not in the table.
var encodings = map[camera.PixelFormat]Encoding{
	camera.FormatRGB24:  {"rgb8", 3},
	camera.FormatBGR24:  {"bgr8", 3},
	camera.FormatRGBA32: {"rgba8", 4},
	camera.FormatBGRA32: {"bgra8", 4},
	camera.FormatYUYV:   {"yuv422_yuy2", 2},
	camera.FormatUYVY:   {"yuv422", 2},
	camera.FormatGrey:   {"mono8", 1},
	camera.FormatY16:    {"mono16", 2},
	camera.FormatSRGGB8: {"bayer_rggb8", 1},
	camera.FormatSBGGR8: {"bayer_bggr8", 1},
	camera.FormatSGBRG8: {"bayer_gbrg8", 1},
	camera.FormatSGRBG8: {"bayer_grbg8", 1},
}

// Lookup returns the encoding of f
func Lookup(f camera.PixelFormat) (Encoding, bool) {
	e, ok := encodings[f]
	return e, ok
}

// Supported reports whether frames in format f can be emitted
func Supported(f camera.PixelFormat) bool {
	_, ok := encodings[f]
	return ok
}

// Encodings returns every publishable encoding, in no particular order
func Encodings() []Encoding {
	out := make([]Encoding, 0, len(encodings))
	for _, e := range encodings {
		out = append(out, e)
	}
	return out
}
