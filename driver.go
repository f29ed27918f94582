package cameracapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/bufferpool"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera/virtualcam"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/controls"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish/gstsink"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish/mqttsink"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/scheduler"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/statusapi"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/v4l2"
)

// stallTimeout is how long a running driver may go without emitting a frame
// before it reports itself unhealthy
const stallTimeout = 5 * time.Second

// Option configures a Driver
type Option func(*Driver)

// WithManager makes Initialize enumerate cameras with m instead of the
// backend named in the configuration
func WithManager(m camera.Manager) Option {
	return func(d *Driver) { d.manager = m }
}

// WithMapper replaces the buffer pool's memory mapper
func WithMapper(m bufferpool.Mapper) Option {
	return func(d *Driver) { d.mapper = m }
}

// Driver implements Capturer
type Driver struct {
	manager camera.Manager
	mapper  bufferpool.Mapper

	mu      sync.RWMutex
	cfg     *config.Config
	running bool
	reason  string
	started time.Time

	mgr      camera.Manager
	sess     *session.Session
	stream   camera.StreamConfiguration
	registry *controls.Registry
	pool     *bufferpool.Pool
	emitter  *emitter.Emitter
	sched    *scheduler.Scheduler
	bus      *framebus.Bus

	mqtt        *mqttsink.Sink
	gst         *gstsink.Sink
	pumps       map[string]*publish.Pump
	cancelPumps context.CancelFunc
	pumpWG      sync.WaitGroup
}

// New returns an idle driver
func New(opts ...Option) *Driver {
	d := &Driver{reason: "not initialized"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize opens the camera and starts capture
//
// This method:
//  1. Starts the camera manager and opens the selected camera
//  2. Negotiates the stream against the formats the emitter supports
//  3. Discovers the device controls and commits the configured parameters
//  4. Allocates and maps the buffer pool
//  5. Loads the calibration and builds the emitter on the frame bus
//  6. Builds one request per buffer and attaches the completion handler
//  7. Starts the sink pumps
//  8. Starts the camera and queues every request
//
// Any failure releases what was set up so far.
func (d *Driver) Initialize(ctx context.Context, cfg *config.Config) (err error) {
	if cfg == nil {
		return ErrNilConfig
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg != nil {
		return ErrAlreadyInitialized
	}
	d.cfg = cfg

	defer func() {
		if err != nil {
			slog.Error("camera-capture: initialization failed, releasing resources",
				"error", err,
				"subject", faults.SubjectOf(err),
			)
			if terr := d.teardownLocked(); terr != nil {
				slog.Warn("camera-capture: teardown after failed initialization", "error", terr)
			}
			d.cfg = nil
			d.reason = "initialization failed"
		}
	}()

	slog.Info("camera-capture: initializing",
		"instance_id", cfg.InstanceID,
		"backend", cfg.Backend,
	)

	mgr := d.manager
	if mgr == nil {
		mgr, err = newManager(cfg)
		if err != nil {
			return err
		}
	}
	if err := mgr.Start(); err != nil {
		return faults.Acquisition(cfg.Backend, fmt.Errorf("camera-capture: start camera manager: %w", err))
	}
	d.mgr = mgr

	sess, err := session.Open(mgr, session.Selector{Name: cfg.Camera.Name, Index: cfg.Camera.Index})
	if err != nil {
		return err
	}
	d.sess = sess
	cam := sess.Camera()

	role, err := camera.ParseStreamRole(cfg.Stream.Role)
	if err != nil {
		return faults.Configuration("stream.role", fmt.Errorf("camera-capture: %w", err))
	}
	sc, err := sess.Configure(session.StreamRequest{
		Role:        role,
		PixelFormat: cfg.Stream.PixelFormat,
		Size:        camera.Size{Width: cfg.Stream.Width, Height: cfg.Stream.Height},
		BufferCount: cfg.Stream.BufferCount,
	}, emitter.Supported)
	if err != nil {
		return err
	}
	d.stream = *sc

	registry, err := controls.Discover(cam, nil)
	if err != nil {
		return err
	}
	if rejected := cfg.Controls.Apply(registry); len(rejected) > 0 {
		slog.Warn("camera-capture: some control parameters were rejected, device defaults kept",
			"rejected", len(rejected),
		)
	}
	d.registry = registry

	var poolOpts []bufferpool.Option
	if d.mapper != nil {
		poolOpts = append(poolOpts, bufferpool.WithMapper(d.mapper))
	}
	pool := bufferpool.New(cam, poolOpts...)
	d.pool = pool
	if err := pool.Allocate(sc.Stream()); err != nil {
		return err
	}
	if err := pool.MapAll(); err != nil {
		return err
	}

	calib := calibration.New(cam.ID(), cfg.Camera.CalibURL)
	calib.SetSize(sc.Size.Width, sc.Size.Height)

	d.bus = framebus.New()
	em, err := emitter.New(emitter.Config{
		Stream:      sc.Stream(),
		Mappings:    pool,
		Calibration: calib,
		Sink:        publish.Multi{d.bus},
		Options: emitter.Options{
			FrameID:      cfg.Frame.ID,
			UseWallClock: cfg.Frame.UseWallClock,
			RemoveStride: cfg.Frame.RemoveStride,
		},
	})
	if err != nil {
		return err
	}
	d.emitter = em

	sched, err := scheduler.New(scheduler.Config{
		Device:   cam,
		Stream:   sc.Stream(),
		Buffers:  pool,
		Controls: registry,
		Emitter:  em,
	})
	if err != nil {
		return err
	}
	if err := sched.Build(); err != nil {
		return err
	}
	sched.Attach()
	d.sched = sched

	if err := d.startSinksLocked(ctx, cfg); err != nil {
		return err
	}

	if err := sess.Start(registry.Committed()); err != nil {
		return err
	}
	if err := sched.QueueAll(); err != nil {
		return err
	}

	d.running = true
	d.reason = ""
	d.started = time.Now()

	slog.Info("camera-capture: capture running",
		"camera", cam.ID(),
		"stream", sc.String(),
		"buffers", pool.Len(),
		"mapped_bytes", pool.MappedBytes(),
		"controls", registry.Len(),
		"sinks", len(d.pumps),
	)
	return nil
}

// newManager builds the camera manager of the configured backend
func newManager(cfg *config.Config) (camera.Manager, error) {
	switch cfg.Backend {
	case config.BackendVirtual:
		opts := virtualcam.Options{RowPadding: cfg.Virtual.RowPadding}
		if cfg.Virtual.FPS > 0 {
			opts.Interval = time.Duration(float64(time.Second) / cfg.Virtual.FPS)
		}
		return virtualcam.NewManager(virtualcam.New(opts)), nil
	case config.BackendV4L2:
		return v4l2.NewManager(cfg.Camera.Device), nil
	default:
		return nil, faults.Configuration("backend", fmt.Errorf("camera-capture: unknown backend %q", cfg.Backend))
	}
}

// startSinksLocked creates the enabled network and GStreamer sinks and
// feeds each from its own drop-old bus subscription
func (d *Driver) startSinksLocked(ctx context.Context, cfg *config.Config) error {
	pumpCtx, cancel := context.WithCancel(context.Background())
	d.cancelPumps = cancel
	d.pumps = make(map[string]*publish.Pump)

	if cfg.MQTT.Enabled {
		sink, err := mqttsink.New(mqttsink.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Retained: cfg.MQTT.Retained,
		})
		if err != nil {
			return faults.Configuration("mqtt", err)
		}
		d.mqtt = sink
		if err := sink.Connect(ctx); err != nil {
			// the client keeps retrying; frames are dropped until it connects
			slog.Warn("camera-capture: MQTT broker not reachable yet",
				"broker", cfg.MQTT.Broker,
				"error", err,
			)
		}
		if err := d.startPumpLocked(pumpCtx, "mqtt", sink); err != nil {
			return err
		}
	}

	if cfg.GStream.Enabled {
		sink, err := gstsink.New(gstsink.Config{Launch: cfg.GStream.Launch})
		if err != nil {
			return faults.Acquisition("gstreamer", err)
		}
		d.gst = sink
		if err := d.startPumpLocked(pumpCtx, "gstreamer", sink); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) startPumpLocked(ctx context.Context, name string, sink emitter.Sink) error {
	recv, err := d.bus.SubscribeLatest(name)
	if err != nil {
		return fmt.Errorf("camera-capture: subscribe %s sink: %w", name, err)
	}
	p := publish.NewPump(name, recv, sink)
	d.pumps[name] = p

	d.pumpWG.Add(1)
	go func() {
		defer d.pumpWG.Done()
		p.Run(ctx)
	}()
	return nil
}

// Shutdown implements Capturer
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg == nil {
		slog.Debug("camera-capture: not initialized, nothing to shut down")
		return nil
	}

	slog.Info("camera-capture: shutting down")
	stats := d.statsLocked()

	err := d.teardownLocked()
	d.cfg = nil
	d.reason = "shut down"

	slog.Info("camera-capture: shutdown complete",
		"completed", stats.Completed,
		"emitted", stats.Emitted,
		"dropped", stats.Dropped,
		"cancelled", stats.Cancelled,
		"uptime", stats.Uptime,
	)
	return err
}

// teardownLocked releases everything Initialize set up, in reverse
// dependency order. Every step runs; errors are joined.
func (d *Driver) teardownLocked() error {
	var errs []error
	d.running = false

	switch {
	case d.sched != nil:
		if err := d.sched.Shutdown(d.sess.Stop); err != nil {
			errs = append(errs, err)
		}
	case d.sess != nil:
		if err := d.sess.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if d.pool != nil {
		d.pool.ReleaseAll()
		d.pool.Free()
	}
	if d.sess != nil {
		if err := d.sess.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.mgr != nil {
		d.mgr.Stop()
	}

	if d.cancelPumps != nil {
		d.cancelPumps()
		d.pumpWG.Wait()
	}
	if d.mqtt != nil {
		d.mqtt.Disconnect()
	}
	if d.gst != nil {
		if err := d.gst.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.bus != nil {
		d.bus.Close()
	}

	d.mgr, d.sess, d.registry, d.pool = nil, nil, nil, nil
	d.emitter, d.sched, d.bus = nil, nil, nil
	d.mqtt, d.gst, d.pumps, d.cancelPumps = nil, nil, nil, nil
	return errors.Join(errs...)
}

// Stats returns a snapshot of the capture counters
func (d *Driver) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.statsLocked()
}

func (d *Driver) statsLocked() Stats {
	s := Stats{Running: d.running}
	if d.sess != nil {
		s.Camera = d.sess.Camera().ID()
		s.Resolution = d.stream.Size.String()
		s.PixelFormat = d.stream.PixelFormat.String()
		s.Stride = d.stream.Stride
	}
	if d.pool != nil {
		s.PoolDepth = d.pool.Len()
		s.MappedBytes = d.pool.MappedBytes()
	}
	if d.sched != nil {
		ss := d.sched.Stats()
		s.InFlight = ss.InFlight
		s.Completed = ss.Completed
		s.Cancelled = ss.Cancelled
		s.RequeueFailures = ss.RequeueFailures
	}
	if d.emitter != nil {
		es := d.emitter.Stats()
		s.Emitted = es.Emitted
		s.Dropped = es.Dropped
		s.PublishErrors = es.PublishErrors
		s.BytesEmitted = es.BytesEmitted
		if !es.LastFrameAt.IsZero() {
			s.LatencyMS = time.Since(es.LastFrameAt).Milliseconds()
		}
	}
	if d.running {
		s.Uptime = time.Since(d.started)
		if secs := s.Uptime.Seconds(); secs > 0 {
			s.FPS = float64(s.Emitted) / secs
		}
	}
	if d.bus != nil {
		s.Subscribers = d.bus.Subscribers()
	}
	if len(d.pumps) > 0 {
		s.Pumps = make(map[string]publish.PumpStats, len(d.pumps))
		for name, p := range d.pumps {
			s.Pumps[name] = p.Stats()
		}
	}
	if d.mqtt != nil {
		ms := d.mqtt.Stats()
		s.MQTT = &ms
	}
	if d.gst != nil {
		gs := d.gst.Stats()
		s.GStreamer = &gs
	}
	return s
}

// Health reports whether frames are flowing. A running driver that has not
// emitted a frame for stallTimeout is reported as stalled.
func (d *Driver) Health() statusapi.Health {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := statusapi.Health{Running: d.running, Reason: d.reason}
	if d.sess != nil {
		h.Camera = d.sess.Camera().ID()
		h.Stream = d.stream.String()
	}
	if !d.running || d.emitter == nil {
		return h
	}

	last := d.emitter.Stats().LastFrameAt
	if last.IsZero() {
		last = d.started
	}
	if idle := time.Since(last); idle > stallTimeout {
		h.Running = false
		h.Reason = fmt.Sprintf("no frame for %s", idle.Truncate(time.Second))
	}
	return h
}

// Controls lists the device controls with their committed values
func (d *Driver) Controls() []statusapi.Control {
	d.mu.RLock()
	registry := d.registry
	d.mu.RUnlock()
	if registry == nil {
		return nil
	}

	committed := registry.CommittedByName()
	descs := registry.Descriptors()
	out := make([]statusapi.Control, 0, len(descs))
	for _, desc := range descs {
		c := statusapi.Control{
			Name:    desc.Name,
			Type:    desc.Type.String(),
			Min:     desc.Min.String(),
			Max:     desc.Max.String(),
			Default: desc.Default.String(),
		}
		if v, ok := committed[desc.Name]; ok {
			c.Value, c.Committed = v.String(), true
		}
		out = append(out, c)
	}
	return out
}

// SetControl validates and commits a control value. Every request re-armed
// afterwards carries it to the device.
func (d *Driver) SetControl(name string, value any) error {
	d.mu.RLock()
	registry := d.registry
	d.mu.RUnlock()
	if registry == nil {
		return ErrNotRunning
	}

	if err := registry.Set(name, value); err != nil {
		slog.Warn("camera-capture: control value rejected", "control", name, "error", err)
		return err
	}
	slog.Info("camera-capture: control value committed", "control", name, "value", value)
	return nil
}

// Subscribe registers ch for every emitted frame. Frames are dropped when
// ch is full.
func (d *Driver) Subscribe(id string, ch chan<- framebus.Delivery) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bus == nil {
		return ErrNotRunning
	}
	return d.bus.Subscribe(id, ch)
}

// SubscribeLatest registers a subscriber that only ever sees the most
// recent frame
func (d *Driver) SubscribeLatest(id string) (*framebus.Receiver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bus == nil {
		return nil, ErrNotRunning
	}
	return d.bus.SubscribeLatest(id)
}

// Unsubscribe removes a subscriber
func (d *Driver) Unsubscribe(id string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bus == nil {
		return ErrNotRunning
	}
	return d.bus.Unsubscribe(id)
}

// StatusProvider adapts the driver to the status API
func (d *Driver) StatusProvider() statusapi.Provider {
	return statusView{d}
}

type statusView struct{ d *Driver }

func (v statusView) Health() statusapi.Health                { return v.d.Health() }
func (v statusView) Stats() any                              { return v.d.Stats() }
func (v statusView) Controls() []statusapi.Control           { return v.d.Controls() }
func (v statusView) SetControl(name string, value any) error { return v.d.SetControl(name, value) }

var _ Capturer = (*Driver)(nil)
