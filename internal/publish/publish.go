// Package publish connects emitted frames to their consumers.
//
// Synchronous sinks are combined with Multi and called on the capture path.
// Slow sinks (network, GStreamer) run behind the frame bus instead: Pump
// feeds them from a drop-old subscription, so they only ever see the most
// recent frame and never hold up a capture request.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/framebus"
)

// Multi publishes every frame to each sink in order. All sinks are called
// even when one fails; the errors are joined.
type Multi []emitter.Sink

// Publish implements emitter.Sink
func (m Multi) Publish(f emitter.Frame, info calibration.CameraInfo) error {
	var errs []error
	for i, s := range m {
		if err := s.Publish(f, info); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// PumpStats counts frames moved by a Pump
type PumpStats struct {
	Delivered uint64
	Failed    uint64
}

// Pump moves frames from a bus receiver into a sink until ctx is done or
// the receiver is closed
type Pump struct {
	name string
	recv *framebus.Receiver
	sink emitter.Sink

	delivered uint64
	failed    uint64
}

// NewPump returns a pump named name (used in logs)
func NewPump(name string, recv *framebus.Receiver, sink emitter.Sink) *Pump {
	return &Pump{name: name, recv: recv, sink: sink}
}

// Run blocks, publishing every received frame. Sink errors are logged and
// the pump keeps going.
func (p *Pump) Run(ctx context.Context) {
	slog.Info("publish: pump started", "sink", p.name)
	defer slog.Info("publish: pump stopped",
		"sink", p.name,
		"delivered", atomic.LoadUint64(&p.delivered),
		"failed", atomic.LoadUint64(&p.failed),
	)

	for {
		d, err := p.recv.Receive(ctx)
		if err != nil {
			return
		}
		if err := p.sink.Publish(d.Frame, d.Info); err != nil {
			atomic.AddUint64(&p.failed, 1)
			slog.Warn("publish: sink rejected frame",
				"sink", p.name,
				"seq", d.Frame.Sequence,
				"trace_id", d.Frame.TraceID,
				"error", err,
			)
			continue
		}
		atomic.AddUint64(&p.delivered, 1)
	}
}

// Stats returns the pump counters
func (p *Pump) Stats() PumpStats {
	return PumpStats{
		Delivered: atomic.LoadUint64(&p.delivered),
		Failed:    atomic.LoadUint64(&p.failed),
	}
}
