package cameracapture

import (
	"context"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/config"
)

// Capturer defines the contract of a capture driver
//
// Implementations must guarantee:
//   - Initialize() either leaves the driver capturing or releases every
//     resource it took before returning the error
//   - Shutdown() is idempotent (safe to call multiple times)
//   - Stats() is thread-safe (can be called from any goroutine)
type Capturer interface {
	// Initialize opens the camera, validates the control parameters and
	// starts capture.
	//
	// This method returns once every request is queued. Frames arrive
	// asynchronously on the device's completion goroutine.
	//
	// Returns an error (see internal/faults for the categories) if:
	//   - No camera matches the selector
	//   - The camera cannot be acquired, configured or started
	//   - No pixel format is common to the camera and the emitter
	//   - Buffers cannot be allocated or mapped
	//
	// Rejected control parameters are logged and do not fail
	// initialization.
	Initialize(ctx context.Context, cfg *config.Config) error

	// Shutdown stops capture and releases the camera, the buffers and the
	// sinks.
	//
	// This method:
	//   1. Disconnects the completion handler and stops the camera
	//   2. Frees and releases the camera
	//   3. Stops the manager
	//   4. Unmaps the buffers
	//   5. Stops the sink pumps and closes the sinks
	//
	// Safe to call multiple times. Returns the first error met; the
	// remaining steps still run.
	Shutdown() error
}
