package cameracapture

import (
	"errors"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish/gstsink"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish/mqttsink"
)

var (
	ErrAlreadyInitialized = errors.New("camera-capture: already initialized")
	ErrNotRunning         = errors.New("camera-capture: not running")
	ErrNilConfig          = errors.New("camera-capture: nil configuration")
)

// Stats contains current capture statistics
type Stats struct {
	// Running is true between a successful Initialize and Shutdown
	Running bool `json:"running"`
	// Camera is the id of the acquired camera
	Camera string `json:"camera"`
	// Resolution is the negotiated frame size (e.g. "1280x720")
	Resolution string `json:"resolution"`
	// PixelFormat is the negotiated pixel format (e.g. "YUYV")
	PixelFormat string `json:"pixel_format"`
	// Stride is the device row length in bytes
	Stride int `json:"stride"`
	// PoolDepth is the number of buffers, and of requests
	PoolDepth int `json:"pool_depth"`
	// InFlight is the number of requests queued on the device
	InFlight int `json:"in_flight"`
	// MappedBytes is the memory mapped for the pool
	MappedBytes int `json:"mapped_bytes"`

	// Completed counts requests the device completed
	Completed uint64 `json:"completed"`
	// Cancelled counts requests the device cancelled
	Cancelled uint64 `json:"cancelled"`
	// RequeueFailures counts requests that could not be queued again
	RequeueFailures uint64 `json:"requeue_failures"`
	// Emitted counts frames handed to the sinks
	Emitted uint64 `json:"emitted"`
	// Dropped counts completed requests that produced no frame
	Dropped uint64 `json:"dropped"`
	// PublishErrors counts frames a sink rejected
	PublishErrors uint64 `json:"publish_errors"`
	// BytesEmitted is the total frame payload handed to the sinks
	BytesEmitted uint64 `json:"bytes_emitted"`

	// FPS is the mean emitted frame rate since capture started
	FPS float64 `json:"fps"`
	// LatencyMS is the time since the last emitted frame in milliseconds
	LatencyMS int64 `json:"latency_ms"`
	// Uptime is the time since capture started
	Uptime time.Duration `json:"uptime"`

	// Subscribers is the number of frame bus subscribers
	Subscribers int `json:"subscribers"`
	// Pumps holds the counters of the sinks fed from the frame bus
	Pumps map[string]publish.PumpStats `json:"pumps,omitempty"`
	// MQTT is set when the MQTT sink is enabled
	MQTT *mqttsink.Stats `json:"mqtt,omitempty"`
	// GStreamer is set when the GStreamer sink is enabled
	GStreamer *gstsink.Stats `json:"gstreamer,omitempty"`
}
