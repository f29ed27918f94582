// Package camera defines the device abstraction the capture core drives.
//
// A Manager enumerates Cameras. A Camera is acquired, configured with one
// stream, given device-allocated FrameBuffers, and then fed Requests; each
// queued Request comes back exactly once through the completion handler,
// either complete or cancelled. Backends live in sub-packages (v4l2,
// virtualcam).
package camera

import "errors"

var (
	ErrNotAcquired   = errors.New("camera: not acquired")
	ErrBusy          = errors.New("camera: device busy")
	ErrNotConfigured = errors.New("camera: not configured")
	ErrNotRunning    = errors.New("camera: not running")
	ErrUnknownStream = errors.New("camera: stream does not belong to this camera")
)

// Allocator hands out device-managed buffers for a configured stream
type Allocator interface {
	AllocateBuffers(s Stream) ([]*FrameBuffer, error)
	FreeBuffers(s Stream) error
}

// Camera is one physical imaging device
type Camera interface {
	Allocator

	// ID returns a stable identifier, unique within the manager
	ID() string

	// Acquire claims exclusive use of the device
	Acquire() error
	// Release gives up exclusive use. The camera must be stopped.
	Release() error

	// Controls lists the controls the device supports
	Controls() []ControlEntry

	// GenerateConfiguration returns a default configuration for roles
	GenerateConfiguration(roles ...StreamRole) (*Configuration, error)
	// Validate adjusts cfg in place to something the device supports
	Validate(cfg *Configuration) ConfigStatus
	// Configure applies a validated configuration and binds its streams
	Configure(cfg *Configuration) error

	// CreateRequest returns a new empty request tagged with cookie
	CreateRequest(cookie uint64) (*Request, error)
	// QueueRequest hands r to the device. r comes back through the
	// completion handler.
	QueueRequest(r *Request) error

	// Start begins streaming with the given initial controls
	Start(controls ControlList) error
	// Stop ends streaming. Requests still queued complete as cancelled.
	Stop() error

	// SetRequestCompletedHandler registers fn to be called, on a device
	// goroutine, for every completed or cancelled request. nil disconnects.
	SetRequestCompletedHandler(fn func(*Request))
}

// Manager enumerates the cameras of one backend
type Manager interface {
	Start() error
	Stop()
	Cameras() []Camera
}
