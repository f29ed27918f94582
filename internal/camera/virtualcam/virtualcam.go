// Package virtualcam is a test-pattern camera backend.
//
// Buffers are anonymous shared memory files, so consumers map them exactly
// as they would dmabuf fds from a real device. Completions are delivered
// either on a ticker (Options.Interval > 0) or one at a time through Step,
// which makes the request lifecycle deterministic in tests.
package virtualcam

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

// Options configures a virtual camera
type Options struct {
	// ID is the camera identifier (default "virtual/0")
	ID string
	// Formats lists the offered formats (default DefaultFormats)
	Formats camera.StreamFormats
	// Controls lists the offered controls (default DefaultControls)
	Controls []camera.ControlEntry
	// RowPadding is appended to every row, making stride > width*bpp
	RowPadding int
	// Planes splits every buffer into this many planes of one fd (default 1)
	Planes int
	// MaxBuffers caps BufferCount during validation (default 8)
	MaxBuffers int
	// Interval delivers a completion every Interval while running. Zero
	// disables the ticker; use Step.
	Interval time.Duration
	// Clock returns the device clock in nanoseconds (default monotonic)
	Clock func() uint64
}

// DefaultFormats is the format list offered when Options.Formats is empty
func DefaultFormats() camera.StreamFormats {
	sizes := []camera.Size{{Width: 320, Height: 240}, {Width: 640, Height: 480}, {Width: 1280, Height: 720}}
	return camera.StreamFormats{
		{Format: camera.FormatYUYV, Sizes: sizes},
		{Format: camera.FormatRGB24, Sizes: sizes},
		{Format: camera.FormatMJPEG, Sizes: sizes},
		{Format: camera.FormatGrey, Sizes: sizes},
	}
}

// DefaultControls is the control list offered when Options.Controls is empty.
// Extents are reported as unknown, leaving cardinality to the consumer.
func DefaultControls() []camera.ControlEntry {
	entry := func(id uint32, typ camera.ControlType, min, max, def camera.ControlValue) camera.ControlEntry {
		return camera.ControlEntry{
			ID:   camera.ControlID{ID: id, Name: camera.ControlNames[id], Type: typ, Extent: camera.ExtentUnknown},
			Info: camera.ControlInfo{Min: min, Max: max, Default: def},
		}
	}
	f := camera.FloatValue
	i32 := camera.Int32Value
	return []camera.ControlEntry{
		entry(camera.ControlAeEnable, camera.ControlTypeBool, camera.BoolValue(false), camera.BoolValue(true), camera.BoolValue(true)),
		entry(camera.ControlAeMeteringMode, camera.ControlTypeInteger32, i32(0), i32(3), i32(0)),
		entry(camera.ControlAeConstraintMode, camera.ControlTypeInteger32, i32(0), i32(3), i32(0)),
		entry(camera.ControlAeExposureMode, camera.ControlTypeInteger32, i32(0), i32(3), i32(0)),
		entry(camera.ControlExposureValue, camera.ControlTypeFloat, f(-8), f(8), f(0)),
		entry(camera.ControlExposureTime, camera.ControlTypeInteger32, i32(100), i32(66666), i32(20000)),
		entry(camera.ControlAnalogueGain, camera.ControlTypeFloat, f(1), f(16), f(1)),
		entry(camera.ControlBrightness, camera.ControlTypeFloat, f(-1), f(1), f(0)),
		entry(camera.ControlContrast, camera.ControlTypeFloat, f(0), f(32), f(1)),
		entry(camera.ControlAwbEnable, camera.ControlTypeBool, camera.BoolValue(false), camera.BoolValue(true), camera.BoolValue(true)),
		entry(camera.ControlAwbMode, camera.ControlTypeInteger32, i32(0), i32(7), i32(0)),
		entry(camera.ControlColourGains, camera.ControlTypeFloat, f(0), f(32), camera.FloatArray([]float64{1, 1})),
		entry(camera.ControlSaturation, camera.ControlTypeFloat, f(0), f(32), f(1)),
		entry(camera.ControlSharpness, camera.ControlTypeFloat, f(0), f(16), f(1)),
		entry(camera.ControlScalerCrop, camera.ControlTypeRectangle,
			camera.RectangleValue(camera.Rectangle{Width: 64, Height: 64}),
			camera.RectangleValue(camera.Rectangle{X: 1280, Y: 720, Width: 1280, Height: 720}),
			camera.RectangleValue(camera.Rectangle{Width: 1280, Height: 720})),
		entry(camera.ControlFrameDurationLimits, camera.ControlTypeInteger64,
			camera.Int64Array([]int64{33333, 33333}),
			camera.Int64Array([]int64{1000000, 1000000}),
			camera.Int64Array([]int64{33333, 33333})),
	}
}

// ErrCreateRequest is returned by CreateRequest after FailCreateRequestAfter
var ErrCreateRequest = errors.New("virtualcam: request creation failed")

// Stats counts the requests processed by a virtual camera
type Stats struct {
	Queued    uint64
	Completed uint64
	Cancelled uint64
}

// Camera is a virtual camera device
type Camera struct {
	opts Options

	mu         sync.Mutex
	acquired   bool
	running    bool
	stream     *stream
	buffers    []*buffer
	pending    []*camera.Request
	handler    func(*camera.Request)
	sequence   uint32
	lastApply  camera.ControlList
	failCreate int // fail CreateRequest after this many successes, -1 = never
	created    int

	// closed on Stop to end the ticker
	stop chan struct{}

	queued    uint64
	completed uint64
	cancelled uint64
}

type stream struct {
	cfg camera.StreamConfiguration
}

func (s *stream) Configuration() camera.StreamConfiguration { return s.cfg }

// New returns a virtual camera with defaults applied to opts
func New(opts Options) *Camera {
	if opts.ID == "" {
		opts.ID = "virtual/0"
	}
	if len(opts.Formats) == 0 {
		opts.Formats = DefaultFormats()
	}
	if opts.Controls == nil {
		opts.Controls = DefaultControls()
	}
	if opts.Planes <= 0 {
		opts.Planes = 1
	}
	if opts.MaxBuffers <= 0 {
		opts.MaxBuffers = 8
	}
	if opts.Clock == nil {
		start := time.Now()
		opts.Clock = func() uint64 { return uint64(time.Since(start).Nanoseconds()) }
	}
	return &Camera{opts: opts, failCreate: -1}
}

// ID implements camera.Camera
func (c *Camera) ID() string { return c.opts.ID }

// Acquire implements camera.Camera
func (c *Camera) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquired {
		return camera.ErrBusy
	}
	c.acquired = true
	return nil
}

// Release implements camera.Camera
func (c *Camera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("virtualcam: release while running: %w", camera.ErrBusy)
	}
	c.acquired = false
	return nil
}

// Controls implements camera.Camera
func (c *Camera) Controls() []camera.ControlEntry {
	return append([]camera.ControlEntry(nil), c.opts.Controls...)
}

// GenerateConfiguration implements camera.Camera. Only single-stream
// configurations are produced.
func (c *Camera) GenerateConfiguration(roles ...camera.StreamRole) (*camera.Configuration, error) {
	if len(roles) != 1 {
		return nil, fmt.Errorf("virtualcam: exactly one stream role supported, got %d", len(roles))
	}
	first := c.opts.Formats[0]
	sc := camera.StreamConfiguration{
		PixelFormat: first.Format,
		Size:        first.Sizes[len(first.Sizes)-1],
		BufferCount: 4,
		Formats:     c.opts.Formats,
	}
	if roles[0] == camera.RoleStillCapture {
		sc.BufferCount = 1
	}
	c.layout(&sc)
	return &camera.Configuration{Streams: []camera.StreamConfiguration{sc}}, nil
}

// Validate implements camera.Camera
func (c *Camera) Validate(cfg *camera.Configuration) camera.ConfigStatus {
	if cfg == nil || len(cfg.Streams) != 1 {
		return camera.ConfigInvalid
	}
	status := camera.ConfigValid
	sc := cfg.At(0)

	if !c.opts.Formats.Contains(sc.PixelFormat) {
		sc.PixelFormat = c.opts.Formats[0].Format
		status = camera.ConfigAdjusted
	}
	sizes := c.opts.Formats.Sizes(sc.PixelFormat)
	if !containsSize(sizes, sc.Size) {
		sc.Size = nearestSize(sizes, sc.Size)
		status = camera.ConfigAdjusted
	}
	switch {
	case sc.BufferCount <= 0:
		sc.BufferCount = 4
		status = camera.ConfigAdjusted
	case sc.BufferCount > c.opts.MaxBuffers:
		sc.BufferCount = c.opts.MaxBuffers
		status = camera.ConfigAdjusted
	}

	c.layout(sc)
	return status
}

// Configure implements camera.Camera
func (c *Camera) Configure(cfg *camera.Configuration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquired {
		return camera.ErrNotAcquired
	}
	if c.running {
		return camera.ErrBusy
	}
	if c.Validate(cfg) == camera.ConfigInvalid {
		return fmt.Errorf("virtualcam: invalid configuration")
	}
	s := &stream{cfg: cfg.Streams[0]}
	cfg.At(0).SetStream(s)
	s.cfg.SetStream(s)
	c.stream = s
	return nil
}

// layout fills stride and frame size for sc
func (c *Camera) layout(sc *camera.StreamConfiguration) {
	bpp := bytesPerPixel(sc.PixelFormat)
	sc.Stride = sc.Size.Width*bpp + c.opts.RowPadding
	sc.FrameSize = sc.Stride * sc.Size.Height
}

// AllocateBuffers implements camera.Allocator
func (c *Camera) AllocateBuffers(s camera.Stream) ([]*camera.FrameBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, camera.ErrNotConfigured
	}
	if s != c.stream {
		return nil, camera.ErrUnknownStream
	}
	if len(c.buffers) > 0 {
		return nil, fmt.Errorf("virtualcam: buffers already allocated: %w", camera.ErrBusy)
	}

	cfg := c.stream.cfg
	out := make([]*camera.FrameBuffer, 0, cfg.BufferCount)
	for i := 0; i < cfg.BufferCount; i++ {
		b, err := newBuffer(cfg.FrameSize, c.opts.Planes)
		if err != nil {
			c.freeLocked()
			return nil, fmt.Errorf("virtualcam: allocate buffer %d: %w", i, err)
		}
		c.buffers = append(c.buffers, b)
		out = append(out, b.fb)
	}

	slog.Debug("virtualcam: buffers allocated",
		"camera", c.opts.ID,
		"count", len(out),
		"frame_size", cfg.FrameSize,
		"planes", c.opts.Planes,
	)
	return out, nil
}

// FreeBuffers implements camera.Allocator
func (c *Camera) FreeBuffers(s camera.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s != c.stream {
		return camera.ErrUnknownStream
	}
	c.freeLocked()
	return nil
}

func (c *Camera) freeLocked() {
	for _, b := range c.buffers {
		if err := b.close(); err != nil {
			slog.Warn("virtualcam: failed to free buffer", "error", err)
		}
	}
	c.buffers = nil
}

// FailCreateRequestAfter makes CreateRequest fail once n requests were
// created. n < 0 disables the failure.
func (c *Camera) FailCreateRequestAfter(n int) {
	c.mu.Lock()
	c.failCreate = n
	c.mu.Unlock()
}

// CreateRequest implements camera.Camera
func (c *Camera) CreateRequest(cookie uint64) (*camera.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, camera.ErrNotConfigured
	}
	if c.failCreate >= 0 && c.created >= c.failCreate {
		return nil, ErrCreateRequest
	}
	c.created++
	return camera.NewRequest(cookie), nil
}

// QueueRequest implements camera.Camera
func (c *Camera) QueueRequest(r *camera.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return camera.ErrNotRunning
	}
	if r.FindBuffer(c.stream) == nil {
		return fmt.Errorf("virtualcam: request %d has no buffer for the stream", r.Cookie())
	}
	c.pending = append(c.pending, r)
	atomic.AddUint64(&c.queued, 1)
	return nil
}

// Start implements camera.Camera
func (c *Camera) Start(controls camera.ControlList) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquired {
		return camera.ErrNotAcquired
	}
	if c.stream == nil {
		return camera.ErrNotConfigured
	}
	if c.running {
		return nil
	}
	c.running = true
	c.lastApply = copyList(controls)

	if c.opts.Interval > 0 {
		c.stop = make(chan struct{})
		go c.tick(c.stop)
	}

	slog.Info("virtualcam: camera started",
		"camera", c.opts.ID,
		"stream", c.stream.cfg.String(),
		"interval", c.opts.Interval,
	)
	return nil
}

func (c *Camera) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Step(camera.RequestComplete)
		}
	}
}

// Stop implements camera.Camera. Requests still queued are completed as
// cancelled, synchronously, through the registered handler.
func (c *Camera) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	pending := c.pending
	c.pending = nil
	for _, r := range pending {
		c.prepareLocked(r, camera.RequestCancelled)
	}
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		for _, r := range pending {
			handler(r)
		}
	}

	slog.Info("virtualcam: camera stopped",
		"camera", c.opts.ID,
		"cancelled", len(pending),
	)
	return nil
}

// SetRequestCompletedHandler implements camera.Camera
func (c *Camera) SetRequestCompletedHandler(fn func(*camera.Request)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Step completes the oldest queued request with status and reports whether
// one was pending. A complete request gets a fresh test pattern, sequence
// number and device timestamp.
func (c *Camera) Step(status camera.RequestStatus) bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	r := c.pending[0]
	c.pending = c.pending[1:]
	c.prepareLocked(r, status)
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(r)
	}
	return true
}

// Pending returns the number of queued requests
func (c *Camera) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// AppliedControls returns the control values in effect on the device: the
// start controls overlaid with those of every completed request.
func (c *Camera) AppliedControls() camera.ControlList {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyList(c.lastApply)
}

// Stats returns request counters
func (c *Camera) Stats() Stats {
	return Stats{
		Queued:    atomic.LoadUint64(&c.queued),
		Completed: atomic.LoadUint64(&c.completed),
		Cancelled: atomic.LoadUint64(&c.cancelled),
	}
}

// prepareLocked writes the frame and metadata of r. c.mu must be held, which
// keeps FreeBuffers from unmapping the buffer mid-fill.
func (c *Camera) prepareLocked(r *camera.Request, status camera.RequestStatus) {
	fb := r.FindBuffer(c.stream)
	md := camera.FrameMetadata{
		Timestamp: c.opts.Clock(),
		Planes:    make([]camera.PlaneMetadata, len(fb.Planes())),
	}
	if status == camera.RequestComplete {
		md.Status = camera.FrameSuccess
		md.Sequence = c.sequence
		for _, b := range c.buffers {
			if b.fb == fb {
				b.fill(c.sequence, c.stream.cfg)
				break
			}
		}
		for i, p := range fb.Planes() {
			md.Planes[i].BytesUsed = p.Length
		}
		c.sequence++
		c.lastApply = mergeList(c.lastApply, r.Controls())
		atomic.AddUint64(&c.completed, 1)
	} else {
		md.Status = camera.FrameCancelled
		atomic.AddUint64(&c.cancelled, 1)
	}
	fb.SetMetadata(md)
	r.Complete(status)
}

func bytesPerPixel(f camera.PixelFormat) int {
	switch f {
	case camera.FormatRGB24, camera.FormatBGR24:
		return 3
	case camera.FormatRGBA32, camera.FormatBGRA32:
		return 4
	case camera.FormatYUYV, camera.FormatUYVY, camera.FormatYVYU, camera.FormatVYUY, camera.FormatY16:
		return 2
	default:
		return 1
	}
}

func containsSize(sizes []camera.Size, s camera.Size) bool {
	for _, c := range sizes {
		if c == s {
			return true
		}
	}
	return false
}

// nearestSize picks the size with the closest pixel count
func nearestSize(sizes []camera.Size, want camera.Size) camera.Size {
	if len(sizes) == 0 {
		return want
	}
	best := sizes[0]
	bestDiff := -1
	for _, s := range sizes {
		d := s.Width*s.Height - want.Width*want.Height
		if d < 0 {
			d = -d
		}
		if bestDiff < 0 || d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best
}

func copyList(l camera.ControlList) camera.ControlList {
	out := make(camera.ControlList, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

func mergeList(dst, src camera.ControlList) camera.ControlList {
	if dst == nil {
		dst = make(camera.ControlList, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Manager exposes a fixed set of virtual cameras
type Manager struct {
	cameras []camera.Camera
	started bool
	mu      sync.Mutex
}

// NewManager returns a manager over cams
func NewManager(cams ...*Camera) *Manager {
	m := &Manager{}
	for _, c := range cams {
		m.cameras = append(m.cameras, c)
	}
	return m
}

// Start implements camera.Manager
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

// Stop implements camera.Manager
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
}

// Cameras implements camera.Manager. It returns nothing before Start.
func (m *Manager) Cameras() []camera.Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	return append([]camera.Camera(nil), m.cameras...)
}
