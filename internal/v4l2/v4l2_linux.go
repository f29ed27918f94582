//go:build linux && (amd64 || arm64)

// Package v4l2 is the Video4Linux2 camera backend.
//
// Buffers are allocated by the driver (MMAP) and exported as dmabuf fds, so
// the buffer pool maps them like any other shared buffer. V4L2 has no
// per-frame controls: the controls of a request are written when it is
// queued, skipping values the device already holds.
package v4l2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

const (
	defaultBufferCount = 4
	maxBufferCount     = 32
	pollTimeoutMs      = 100
)

var ErrMultipleStreams = errors.New("v4l2: only one stream per camera")

// Manager enumerates the V4L2 capture devices matching a glob pattern
type Manager struct {
	pattern string
	cams    []camera.Camera
}

// NewManager returns a manager for the device nodes matching pattern
// (e.g. /dev/video*)
func NewManager(pattern string) *Manager {
	return &Manager{pattern: pattern}
}

// Start probes every matching node and keeps the streaming capture devices
func (m *Manager) Start() error {
	paths, err := filepath.Glob(m.pattern)
	if err != nil {
		return fmt.Errorf("v4l2: bad device pattern %q: %w", m.pattern, err)
	}
	sort.Strings(paths)

	m.cams = nil
	for _, p := range paths {
		c, err := probe(p)
		if err != nil {
			slog.Debug("v4l2: skipping device", "path", p, "error", err)
			continue
		}
		slog.Info("v4l2: camera found", "id", c.id, "card", c.card, "driver", c.driver)
		m.cams = append(m.cams, c)
	}
	return nil
}

// Stop forgets the enumerated cameras
func (m *Manager) Stop() { m.cams = nil }

// Cameras returns the enumerated cameras
func (m *Manager) Cameras() []camera.Camera { return m.cams }

func probe(path string) (*Camera, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	var vcap v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&vcap)); err != nil {
		return nil, fmt.Errorf("QUERYCAP: %w", err)
	}
	caps := vcap.Capabilities
	if caps&capDeviceCaps != 0 {
		caps = vcap.DeviceCaps
	}
	if caps&capVideoCapture == 0 || caps&capStreaming == 0 {
		return nil, fmt.Errorf("not a streaming capture device")
	}

	bus := cString(vcap.BusInfo[:])
	return &Camera{
		path:   path,
		id:     fmt.Sprintf("%s:%s", bus, filepath.Base(path)),
		card:   cString(vcap.Card[:]),
		driver: cString(vcap.Driver[:]),
		fd:     -1,
	}, nil
}

type stream struct {
	cfg camera.StreamConfiguration
}

func (s *stream) Configuration() camera.StreamConfiguration { return s.cfg }

// Camera is one V4L2 capture device
type Camera struct {
	path   string
	id     string
	card   string
	driver string

	mu       sync.Mutex
	fd       int
	acquired bool
	running  bool
	formats  camera.StreamFormats
	controls []boundControl
	byID     map[uint32]*boundControl
	applied  map[uint32]int64
	stream   *stream
	buffers  []*camera.FrameBuffer
	queued   map[uint32]*camera.Request
	handler  func(*camera.Request)

	stop chan struct{}
	done chan struct{}
}

// ID implements camera.Camera
func (c *Camera) ID() string { return c.id }

// Acquire opens the device node and reads its formats and controls
func (c *Camera) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquired {
		return camera.ErrBusy
	}

	fd, err := unix.Open(c.path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("v4l2: open %s: %w", c.path, camera.ErrBusy)
		}
		return fmt.Errorf("v4l2: open %s: %w", c.path, err)
	}
	c.fd = fd

	c.formats = c.enumFormats()
	c.controls = c.enumControls()
	c.byID = make(map[uint32]*boundControl, len(c.controls))
	for i := range c.controls {
		c.byID[c.controls[i].entry.ID.ID] = &c.controls[i]
	}
	c.applied = make(map[uint32]int64)
	c.queued = make(map[uint32]*camera.Request)
	c.acquired = true
	return nil
}

// Release closes the device node. A polling goroutine left by Stop is
// waited for first.
func (c *Camera) Release() error {
	c.mu.Lock()
	if !c.acquired {
		c.mu.Unlock()
		return camera.ErrNotAcquired
	}
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("v4l2: release while running")
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeLocked()
	err := unix.Close(c.fd)
	c.fd = -1
	c.acquired = false
	c.stream = nil
	if err != nil {
		return fmt.Errorf("v4l2: close %s: %w", c.path, err)
	}
	return nil
}

// Controls implements camera.Camera
func (c *Camera) Controls() []camera.ControlEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]camera.ControlEntry, len(c.controls))
	for i, b := range c.controls {
		out[i] = b.entry
	}
	return out
}

func (c *Camera) enumFormats() camera.StreamFormats {
	var out camera.StreamFormats
	for i := uint32(0); ; i++ {
		desc := v4l2FmtDesc{Index: i, Type: bufTypeVideoCapture}
		if err := ioctl(c.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			break
		}
		f := camera.PixelFormat(desc.PixelFormat)
		out = append(out, camera.FormatSizes{Format: f, Sizes: c.enumSizes(desc.PixelFormat)})
	}
	return out
}

func (c *Camera) enumSizes(pixfmt uint32) []camera.Size {
	var sizes []camera.Size
	for i := uint32(0); ; i++ {
		fs := v4l2FrmSizeEnum{Index: i, PixelFormat: pixfmt}
		if err := ioctl(c.fd, vidiocEnumFrameSizes, unsafe.Pointer(&fs)); err != nil {
			break
		}
		switch fs.Type {
		case frmSizeTypeDiscrete:
			sizes = append(sizes, camera.Size{Width: int(fs.Size[0]), Height: int(fs.Size[1])})
		case frmSizeTypeContinuous, frmSizeTypeStepwise:
			s := fs.Size
			return stepwiseSizes(int(s[0]), int(s[1]), int(s[2]), int(s[3]), int(s[4]), int(s[5]))
		}
	}
	return sortSizes(sizes)
}

func (c *Camera) enumControls() []boundControl {
	var out []boundControl
	next := camera.ControlVendorBase
	id := uint32(ctrlFlagNextCtrl | ctrlFlagNextCompound)
	for {
		q := v4l2QueryExtCtrl{ID: id}
		if err := ioctl(c.fd, vidiocQueryExtCtrl, unsafe.Pointer(&q)); err != nil {
			break
		}
		id = q.ID | ctrlFlagNextCtrl | ctrlFlagNextCompound

		dc := deviceControl{
			ID:      q.ID,
			Type:    q.Type,
			Name:    cString(q.Name[:]),
			Min:     q.Minimum,
			Max:     q.Maximum,
			Step:    q.Step,
			Default: q.Default,
			Flags:   q.Flags,
			Elems:   q.Elems,
		}
		b, ok := bindControl(dc, next)
		if !ok {
			continue
		}
		if b.entry.ID.ID == next {
			next++
		}
		out = append(out, b)
	}
	return out
}

// GenerateConfiguration returns the current device format for one role
func (c *Camera) GenerateConfiguration(roles ...camera.StreamRole) (*camera.Configuration, error) {
	if len(roles) != 1 {
		return nil, ErrMultipleStreams
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquired {
		return nil, camera.ErrNotAcquired
	}

	f := v4l2Format{Type: bufTypeVideoCapture}
	if err := ioctl(c.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return nil, fmt.Errorf("v4l2: G_FMT: %w", err)
	}
	return &camera.Configuration{Streams: []camera.StreamConfiguration{{
		PixelFormat: camera.PixelFormat(f.Pix.PixelFormat),
		Size:        camera.Size{Width: int(f.Pix.Width), Height: int(f.Pix.Height)},
		Stride:      int(f.Pix.BytesPerLine),
		FrameSize:   int(f.Pix.SizeImage),
		BufferCount: defaultBufferCount,
		Formats:     c.formats,
	}}}, nil
}

// Validate asks the driver for the nearest supported format
func (c *Camera) Validate(cfg *camera.Configuration) camera.ConfigStatus {
	if cfg == nil || len(cfg.Streams) != 1 {
		return camera.ConfigInvalid
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquired {
		return camera.ConfigInvalid
	}

	sc := cfg.At(0)
	f := v4l2Format{Type: bufTypeVideoCapture}
	f.Pix.Width = uint32(sc.Size.Width)
	f.Pix.Height = uint32(sc.Size.Height)
	f.Pix.PixelFormat = uint32(sc.PixelFormat)
	f.Pix.Field = fieldNone
	if err := ioctl(c.fd, vidiocTryFmt, unsafe.Pointer(&f)); err != nil {
		slog.Warn("v4l2: TRY_FMT failed", "camera", c.id, "config", sc.String(), "error", err)
		return camera.ConfigInvalid
	}

	status := camera.ConfigValid
	got := camera.Size{Width: int(f.Pix.Width), Height: int(f.Pix.Height)}
	if camera.PixelFormat(f.Pix.PixelFormat) != sc.PixelFormat || got != sc.Size {
		sc.PixelFormat = camera.PixelFormat(f.Pix.PixelFormat)
		sc.Size = got
		status = camera.ConfigAdjusted
	}
	sc.Stride = int(f.Pix.BytesPerLine)
	sc.FrameSize = int(f.Pix.SizeImage)

	switch {
	case sc.BufferCount <= 0:
		sc.BufferCount = defaultBufferCount
		status = camera.ConfigAdjusted
	case sc.BufferCount > maxBufferCount:
		sc.BufferCount = maxBufferCount
		status = camera.ConfigAdjusted
	}
	if sc.Formats == nil {
		sc.Formats = c.formats
	}
	return status
}

// Configure applies the format with S_FMT and binds the stream
func (c *Camera) Configure(cfg *camera.Configuration) error {
	if cfg == nil || len(cfg.Streams) != 1 {
		return ErrMultipleStreams
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquired {
		return camera.ErrNotAcquired
	}

	sc := cfg.At(0)
	f := v4l2Format{Type: bufTypeVideoCapture}
	f.Pix.Width = uint32(sc.Size.Width)
	f.Pix.Height = uint32(sc.Size.Height)
	f.Pix.PixelFormat = uint32(sc.PixelFormat)
	f.Pix.Field = fieldNone
	if err := ioctl(c.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("v4l2: S_FMT %s: %w", sc.String(), err)
	}
	if camera.PixelFormat(f.Pix.PixelFormat) != sc.PixelFormat ||
		int(f.Pix.Width) != sc.Size.Width || int(f.Pix.Height) != sc.Size.Height {
		return fmt.Errorf("v4l2: S_FMT %s: driver chose %dx%d-%s",
			sc.String(), f.Pix.Width, f.Pix.Height, camera.PixelFormat(f.Pix.PixelFormat))
	}
	sc.Stride = int(f.Pix.BytesPerLine)
	sc.FrameSize = int(f.Pix.SizeImage)

	c.stream = &stream{}
	sc.SetStream(c.stream)
	c.stream.cfg = *sc
	return nil
}

// AllocateBuffers requests driver buffers and exports each as a dmabuf fd
func (c *Camera) AllocateBuffers(s camera.Stream) ([]*camera.FrameBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, camera.ErrNotConfigured
	}
	if s != camera.Stream(c.stream) {
		return nil, camera.ErrUnknownStream
	}

	req := v4l2RequestBuffers{
		Count:  uint32(c.stream.cfg.BufferCount),
		Type:   bufTypeVideoCapture,
		Memory: memoryMMap,
	}
	if err := ioctl(c.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("v4l2: REQBUFS %d: %w", c.stream.cfg.BufferCount, err)
	}
	if req.Count == 0 {
		return nil, fmt.Errorf("v4l2: REQBUFS: driver allocated no buffers")
	}
	if int(req.Count) != c.stream.cfg.BufferCount {
		slog.Warn("v4l2: driver changed buffer count",
			"requested", c.stream.cfg.BufferCount,
			"allocated", req.Count,
		)
	}

	bufs := make([]*camera.FrameBuffer, 0, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		qb := v4l2Buffer{Index: i, Type: bufTypeVideoCapture, Memory: memoryMMap}
		if err := ioctl(c.fd, vidiocQueryBuf, unsafe.Pointer(&qb)); err != nil {
			c.buffers = bufs
			c.freeLocked()
			return nil, fmt.Errorf("v4l2: QUERYBUF %d: %w", i, err)
		}
		eb := v4l2ExportBuffer{Type: bufTypeVideoCapture, Index: i, Flags: unix.O_RDONLY | unix.O_CLOEXEC}
		if err := ioctl(c.fd, vidiocExpBuf, unsafe.Pointer(&eb)); err != nil {
			c.buffers = bufs
			c.freeLocked()
			return nil, fmt.Errorf("v4l2: EXPBUF %d: %w", i, err)
		}
		bufs = append(bufs, camera.NewFrameBuffer([]camera.Plane{{
			FD:     int(eb.FD),
			Offset: 0,
			Length: int(qb.Length),
		}}))
	}
	c.buffers = bufs
	return bufs, nil
}

// FreeBuffers closes the exported fds and releases the driver buffers
func (c *Camera) FreeBuffers(s camera.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || s != camera.Stream(c.stream) {
		return camera.ErrUnknownStream
	}
	if c.running {
		return fmt.Errorf("v4l2: free buffers while running")
	}
	c.freeLocked()
	return nil
}

func (c *Camera) freeLocked() {
	if len(c.buffers) == 0 {
		return
	}
	for _, b := range c.buffers {
		unix.Close(b.Planes()[0].FD)
	}
	c.buffers = nil
	req := v4l2RequestBuffers{Type: bufTypeVideoCapture, Memory: memoryMMap}
	if err := ioctl(c.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		slog.Warn("v4l2: failed to release driver buffers", "camera", c.id, "error", err)
	}
}

// CreateRequest implements camera.Camera
func (c *Camera) CreateRequest(cookie uint64) (*camera.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, camera.ErrNotConfigured
	}
	return camera.NewRequest(cookie), nil
}

// QueueRequest writes the request's changed controls and queues its buffer
func (c *Camera) QueueRequest(r *camera.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return camera.ErrNotRunning
	}

	fb := r.FindBuffer(c.stream)
	if fb == nil {
		return fmt.Errorf("v4l2: %s has no buffer for the stream", r)
	}
	index := -1
	for i, b := range c.buffers {
		if b == fb {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("v4l2: %s carries a foreign buffer", r)
	}

	if err := c.applyLocked(r.Controls()); err != nil {
		slog.Warn("v4l2: failed to apply request controls", "request", r.String(), "error", err)
	}

	qb := v4l2Buffer{Index: uint32(index), Type: bufTypeVideoCapture, Memory: memoryMMap}
	if err := ioctl(c.fd, vidiocQBuf, unsafe.Pointer(&qb)); err != nil {
		return fmt.Errorf("v4l2: QBUF %d: %w", index, err)
	}
	c.queued[uint32(index)] = r
	return nil
}

// applyLocked writes the values of list the device does not already hold
func (c *Camera) applyLocked(list camera.ControlList) error {
	type write struct {
		cid   uint32
		value int64
	}
	var writes []write
	for id, v := range list {
		b, ok := c.byID[id]
		if !ok {
			continue
		}
		n := b.encode(v)
		if last, ok := c.applied[b.cid]; ok && last == n {
			continue
		}
		writes = append(writes, write{b.cid, n})
	}
	if len(writes) == 0 {
		return nil
	}

	raw := make([]byte, extControlSize*len(writes))
	for i, w := range writes {
		rec := raw[i*extControlSize:]
		binary.NativeEndian.PutUint32(rec[0:], w.cid)
		binary.NativeEndian.PutUint64(rec[12:], uint64(w.value))
	}
	ext := v4l2ExtControls{
		Which:    ctrlWhichCurVal,
		Count:    uint32(len(writes)),
		Controls: unsafe.Pointer(&raw[0]),
	}
	err := ioctl(c.fd, vidiocSExtCtrls, unsafe.Pointer(&ext))
	runtime.KeepAlive(raw)
	if err != nil {
		return fmt.Errorf("S_EXT_CTRLS (control %d of %d): %w", ext.ErrorIdx, len(writes), err)
	}
	for _, w := range writes {
		c.applied[w.cid] = w.value
	}
	return nil
}

// Start applies the initial controls, starts streaming and the completion
// goroutine
func (c *Camera) Start(controls camera.ControlList) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return camera.ErrNotConfigured
	}
	if c.running {
		return nil
	}
	if c.done != nil {
		// the goroutine of the previous run exits within one poll timeout
		c.mu.Unlock()
		<-c.done
		c.mu.Lock()
	}

	if err := c.applyLocked(controls); err != nil {
		slog.Warn("v4l2: failed to apply initial controls", "camera", c.id, "error", err)
	}

	typ := int32(bufTypeVideoCapture)
	if err := ioctl(c.fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("v4l2: STREAMON: %w", err)
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.poll(c.fd, c.stop, c.done)
	return nil
}

// Stop ends streaming and completes every queued request as cancelled. It
// does not wait for the completion goroutine; Release does.
func (c *Camera) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stop)

	typ := int32(bufTypeVideoCapture)
	err := ioctl(c.fd, vidiocStreamOff, unsafe.Pointer(&typ))

	cancelled := make([]*camera.Request, 0, len(c.queued))
	for idx, r := range c.queued {
		b := c.buffers[idx]
		b.SetMetadata(camera.FrameMetadata{Status: camera.FrameCancelled})
		r.Complete(camera.RequestCancelled)
		cancelled = append(cancelled, r)
		delete(c.queued, idx)
	}
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		for _, r := range cancelled {
			handler(r)
		}
	}
	if err != nil {
		return fmt.Errorf("v4l2: STREAMOFF: %w", err)
	}
	return nil
}

// SetRequestCompletedHandler implements camera.Camera
func (c *Camera) SetRequestCompletedHandler(fn func(*camera.Request)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// poll dequeues filled buffers until stop is closed
func (c *Camera) poll(fd int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			slog.Error("v4l2: poll failed", "camera", c.id, "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			select {
			case <-stop:
			default:
				slog.Error("v4l2: device error", "camera", c.id, "revents", fds[0].Revents)
			}
			return
		}
		for c.dequeue(stop) {
		}
	}
}

// dequeue completes one filled buffer. It reports whether to try again.
func (c *Camera) dequeue(stop <-chan struct{}) bool {
	c.mu.Lock()
	select {
	case <-stop:
		c.mu.Unlock()
		return false
	default:
	}

	qb := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMMap}
	if err := ioctl(c.fd, vidiocDQBuf, unsafe.Pointer(&qb)); err != nil {
		c.mu.Unlock()
		if !errors.Is(err, unix.EAGAIN) {
			slog.Warn("v4l2: DQBUF failed", "camera", c.id, "error", err)
		}
		return false
	}

	r, ok := c.queued[qb.Index]
	if !ok {
		c.mu.Unlock()
		slog.Warn("v4l2: dequeued a buffer no request owns", "index", qb.Index)
		return true
	}
	delete(c.queued, qb.Index)

	status := camera.FrameSuccess
	if qb.Flags&bufFlagError != 0 {
		status = camera.FrameError
	}
	c.buffers[qb.Index].SetMetadata(camera.FrameMetadata{
		Status:    status,
		Sequence:  qb.Sequence,
		Timestamp: uint64(qb.Timestamp.Sec)*1e9 + uint64(qb.Timestamp.Usec)*1e3,
		Planes:    []camera.PlaneMetadata{{BytesUsed: int(qb.BytesUsed)}},
	})
	r.Complete(camera.RequestComplete)
	handler := c.handler
	c.mu.Unlock()

	if qb.Flags&bufFlagTimestampMask != bufFlagTimestampMonotonic {
		slog.Debug("v4l2: buffer timestamp is not monotonic", "flags", qb.Flags)
	}
	if handler != nil {
		handler(r)
	}
	return true
}
