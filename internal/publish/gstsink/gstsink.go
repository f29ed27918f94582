// Package gstsink pushes frames into a GStreamer pipeline through appsrc.
//
// The pipeline is described with a gst-launch string that must contain an
// appsrc element named by Config.SourceName, e.g.
//
//	appsrc name=src ! videoconvert ! autovideosink
//
// Caps are set from the first frame and again whenever the geometry or
// encoding changes.
package gstsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
)

// DefaultLaunch displays frames in a local window
const DefaultLaunch = "appsrc name=src ! videoconvert ! autovideosink sync=false"

// Config configures the sink
type Config struct {
	Launch     string
	SourceName string
}

// Stats contains sink statistics
type Stats struct {
	Pushed uint64
	Errors uint64
	Caps   string
}

// Sink implements emitter.Sink by pushing buffers into appsrc
type Sink struct {
	cfg      Config
	pipeline *gst.Pipeline
	src      *app.Source

	mu    sync.Mutex
	caps  string
	base  time.Time
	ended bool

	pushed uint64
	errors uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New parses the pipeline, sets it to PLAYING and starts watching its bus.
//
// This method:
//  1. Initializes GStreamer
//  2. Builds the pipeline from cfg.Launch
//  3. Configures the named appsrc as a live, time-stamped source
//  4. Starts the pipeline and its bus monitor
func New(cfg Config) (*Sink, error) {
	if cfg.Launch == "" {
		cfg.Launch = DefaultLaunch
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "src"
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(cfg.Launch)
	if err != nil {
		return nil, fmt.Errorf("gstsink: parse pipeline %q: %w", cfg.Launch, err)
	}

	elem, err := pipeline.GetElementByName(cfg.SourceName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstsink: pipeline has no appsrc named %q: %w", cfg.SourceName, err)
	}
	src := app.SrcFromElement(elem)

	for name, value := range map[string]interface{}{
		"is-live":      true,
		"format":       gst.FormatTime,
		"block":        false,
		"do-timestamp": false,
	} {
		if err := src.SetProperty(name, value); err != nil {
			pipeline.SetState(gst.StateNull)
			return nil, fmt.Errorf("gstsink: set appsrc %s: %w", name, err)
		}
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstsink: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		cfg:      cfg,
		pipeline: pipeline,
		src:      src,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.monitor(ctx)

	slog.Info("gstsink: pipeline started", "launch", cfg.Launch)
	return s, nil
}

// Publish implements emitter.Sink
func (s *Sink) Publish(f emitter.Frame, _ calibration.CameraInfo) error {
	caps, err := CapsFor(f)
	if err != nil {
		atomic.AddUint64(&s.errors, 1)
		return err
	}
	data, err := Repack(f)
	if err != nil {
		atomic.AddUint64(&s.errors, 1)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("gstsink: stream ended")
	}
	if caps != s.caps {
		s.src.SetCaps(gst.NewCapsFromString(caps))
		slog.Info("gstsink: caps set", "caps", caps)
		s.caps = caps
		s.base = f.Header.Stamp
	}

	buf := gst.NewBufferFromBytes(data)
	buf.SetPresentationTimestamp(f.Header.Stamp.Sub(s.base))

	if ret := s.src.PushBuffer(buf); ret != gst.FlowOK {
		atomic.AddUint64(&s.errors, 1)
		return fmt.Errorf("gstsink: push frame %d: %v", f.Sequence, ret)
	}
	atomic.AddUint64(&s.pushed, 1)
	return nil
}

// monitor logs pipeline errors and EOS until ctx is cancelled
func (s *Sink) monitor(ctx context.Context) {
	defer close(s.done)
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstsink: end of stream")
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			atomic.AddUint64(&s.errors, 1)
			slog.Error("gstsink: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"source", msg.Source(),
			)
		}
	}
}

// Close sends EOS and stops the pipeline. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.src.EndStream()
	s.mu.Unlock()

	s.cancel()
	<-s.done

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstsink: failed to stop pipeline: %w", err)
	}
	slog.Info("gstsink: pipeline stopped",
		"pushed", atomic.LoadUint64(&s.pushed),
		"errors", atomic.LoadUint64(&s.errors),
	)
	return nil
}

// Stats returns sink statistics
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	caps := s.caps
	s.mu.Unlock()
	return Stats{
		Pushed: atomic.LoadUint64(&s.pushed),
		Errors: atomic.LoadUint64(&s.errors),
		Caps:   caps,
	}
}
