package camera

import "fmt"

// Stream is one negotiated output channel of a camera
type Stream interface {
	Configuration() StreamConfiguration
}

// StreamConfiguration describes a stream's format and memory layout
type StreamConfiguration struct {
	PixelFormat PixelFormat
	Size        Size
	// Stride is the length in bytes of one image row in memory
	Stride int
	// FrameSize is the number of bytes of one complete frame
	FrameSize   int
	BufferCount int
	Formats     StreamFormats

	stream Stream
}

// Stream returns the stream the configuration was applied to, or nil before
// the camera is configured.
func (c StreamConfiguration) Stream() Stream { return c.stream }

// SetStream binds the configuration to a stream. Backends call it from
// Camera.Configure.
func (c *StreamConfiguration) SetStream(s Stream) { c.stream = s }

func (c StreamConfiguration) String() string {
	return fmt.Sprintf("%s-%s", c.Size, c.PixelFormat)
}

// ConfigStatus is the outcome of validating a configuration
type ConfigStatus int

const (
	ConfigValid ConfigStatus = iota
	ConfigAdjusted
	ConfigInvalid
)

func (s ConfigStatus) String() string {
	switch s {
	case ConfigValid:
		return "valid"
	case ConfigAdjusted:
		return "adjusted"
	default:
		return "invalid"
	}
}

// Configuration holds one StreamConfiguration per requested role
type Configuration struct {
	Streams []StreamConfiguration
}

// At returns a pointer to the i-th stream configuration
func (c *Configuration) At(i int) *StreamConfiguration {
	return &c.Streams[i]
}
