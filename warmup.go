package cameracapture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/warmup"
)

// warmupBuffer holds the frames a warm-up has not looked at yet
const warmupBuffer = 64

// Warmup measures the emitted frame rate for duration
//
// This method should be called after Initialize() to verify that the camera
// delivers a stable frame rate before frames are relied upon. It taps the
// frame bus with a temporary subscriber, so regular consumers keep receiving
// frames meanwhile.
//
// Returns the statistics, or an error if:
//   - The driver is not running
//   - Fewer than 3 frames arrived
//   - ctx is done
//
// An unstable rate returns the statistics together with
// warmup.ErrUnstable.
func (d *Driver) Warmup(ctx context.Context, duration time.Duration) (warmup.Stats, error) {
	d.mu.RLock()
	bus, running := d.bus, d.running
	d.mu.RUnlock()
	if !running || bus == nil {
		return warmup.Stats{}, ErrNotRunning
	}

	id := "warmup-" + uuid.NewString()
	deliveries := make(chan framebus.Delivery, warmupBuffer)
	if err := bus.Subscribe(id, deliveries); err != nil {
		return warmup.Stats{}, fmt.Errorf("camera-capture: warm-up subscribe: %w", err)
	}
	defer func() {
		if err := bus.Unsubscribe(id); err != nil {
			slog.Debug("camera-capture: warm-up unsubscribe", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan warmup.Frame)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case dl := <-deliveries:
				f := warmup.Frame{Seq: dl.Frame.Sequence, Stamp: dl.Frame.Header.Stamp}
				select {
				case frames <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return warmup.Run(ctx, frames, duration)
}
