// Package emitter turns completed capture buffers into published frames.
//
// The emitter reads the mapped buffer of a completed request, copies it into
// a Frame (optionally dropping the row padding), stamps it and hands it to a
// Sink together with the camera calibration. Frames are independent of the
// buffer once emitted, so the buffer can be requeued right away.
package emitter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/bufferpool"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

var (
	ErrNoStreamBuffer    = errors.New("request has no buffer for the stream")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrNotMapped         = errors.New("buffer is not mapped")
	ErrSizeMismatch      = errors.New("mapped size differs from bytes used")
	ErrShortBuffer       = errors.New("buffer too small for frame geometry")
	ErrFrameStatus       = errors.New("frame not captured successfully")
)

var hostBigEndian = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

// Frame is one published image
type Frame struct {
	Header calibration.Header
	// Width and Height in pixels
	Width  int
	Height int
	// Encoding names the pixel layout (e.g. "rgb8", "yuv422_yuy2")
	Encoding  string
	BigEndian bool
	// Step is the length of one row in Data
	Step int
	Data []byte
	// Sequence is the device frame sequence number
	Sequence uint32
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// Sink receives emitted frames. Publish is never called concurrently.
type Sink interface {
	Publish(f Frame, info calibration.CameraInfo) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(f Frame, info calibration.CameraInfo) error

// Publish implements Sink
func (fn SinkFunc) Publish(f Frame, info calibration.CameraInfo) error { return fn(f, info) }

// Mappings resolves buffer handles to mapped memory. *bufferpool.Pool
// satisfies it.
type Mappings interface {
	Lookup(handle int) (bufferpool.Region, bool)
}

// CameraInfoSource provides calibration. *calibration.Provider satisfies it.
type CameraInfoSource interface {
	CameraInfo() calibration.CameraInfo
}

// Options controls frame construction
type Options struct {
	// FrameID is written into every frame header
	FrameID string
	// UseWallClock shifts device timestamps onto the wall clock. The offset
	// is measured once, on the first frame.
	UseWallClock bool
	// RemoveStride publishes packed rows (width × bytes per pixel) instead of
	// the device rows with their padding
	RemoveStride bool
	// Now returns the wall clock (default time.Now)
	Now func() time.Time
}

// Config wires an Emitter
type Config struct {
	Stream      camera.Stream
	Mappings    Mappings
	Calibration CameraInfoSource
	Sink        Sink
	Options     Options
}

// Stats is a snapshot of emitter counters
type Stats struct {
	Emitted       uint64
	Dropped       uint64
	PublishErrors uint64
	BytesEmitted  uint64
	LastFrameAt   time.Time
}

// Emitter builds frames from completed requests
type Emitter struct {
	stream camera.Stream
	maps   Mappings
	calib  CameraInfoSource
	sink   Sink
	opts   Options

	// clockMu guards the wall clock offset, captured on the first frame
	clockMu   sync.Mutex
	offsetSet bool
	offset    time.Duration

	// pubMu serialises hand-off to the sink
	pubMu sync.Mutex

	emitted       uint64
	dropped       uint64
	publishErrors uint64
	bytesEmitted  uint64
	lastFrameNano int64
}

// New returns an emitter with fail-fast validation of its collaborators
func New(cfg Config) (*Emitter, error) {
	switch {
	case cfg.Stream == nil:
		return nil, fmt.Errorf("emitter: stream is required")
	case cfg.Mappings == nil:
		return nil, fmt.Errorf("emitter: mappings are required")
	case cfg.Sink == nil:
		return nil, fmt.Errorf("emitter: sink is required")
	}
	if cfg.Calibration == nil {
		cfg.Calibration = calibration.New("", "")
	}
	if cfg.Options.Now == nil {
		cfg.Options.Now = time.Now
	}

	sc := cfg.Stream.Configuration()
	if !Supported(sc.PixelFormat) {
		return nil, faults.Configuration("pixel_format",
			fmt.Errorf("emitter: %w: %s", ErrUnsupportedFormat, sc.PixelFormat))
	}

	return &Emitter{
		stream: cfg.Stream,
		maps:   cfg.Mappings,
		calib:  cfg.Calibration,
		sink:   cfg.Sink,
		opts:   cfg.Options,
	}, nil
}

// Emit publishes the frame held by the completed request r, whose buffer
// has the given pool handle.
//
// This method:
//  1. Finds the stream buffer, rejects it unless the device captured it
//     successfully, and sums the bytes used by its planes
//  2. Stamps the frame with the device timestamp, shifted onto the wall
//     clock when configured
//  3. Copies the mapped bytes, verbatim or with the row padding removed
//  4. Hands the frame and the re-stamped camera info to the sink
//
// Every failure drops only this frame and is returned as a
// faults.RuntimeFrame error.
func (e *Emitter) Emit(r *camera.Request, handle int) error {
	subject := fmt.Sprintf("request %d", r.Cookie())

	fb := r.FindBuffer(e.stream)
	if fb == nil {
		return e.drop(subject, ErrNoStreamBuffer)
	}
	md := fb.Metadata()
	if md.Status != camera.FrameSuccess {
		return e.drop(subject, fmt.Errorf("%w: %s", ErrFrameStatus, md.Status))
	}
	bytesUsed := 0
	for _, p := range md.Planes {
		bytesUsed += p.BytesUsed
	}

	sc := e.stream.Configuration()
	enc, ok := Lookup(sc.PixelFormat)
	if !ok {
		slog.Error("emitter: unsupported pixel format", "format", sc.PixelFormat.String())
		return e.drop(subject, fmt.Errorf("%w: %s", ErrUnsupportedFormat, sc.PixelFormat))
	}

	region, ok := e.maps.Lookup(handle)
	if !ok {
		return e.drop(subject, fmt.Errorf("%w (handle %d)", ErrNotMapped, handle))
	}

	hdr := calibration.Header{Stamp: e.stamp(md.Timestamp), FrameID: e.opts.FrameID}

	f := Frame{
		Header:    hdr,
		Width:     sc.Size.Width,
		Height:    sc.Size.Height,
		Encoding:  enc.Name,
		BigEndian: hostBigEndian,
		Sequence:  md.Sequence,
		TraceID:   uuid.New().String(),
	}

	if !e.opts.RemoveStride {
		if region.Size != bytesUsed {
			return e.drop(subject, fmt.Errorf("%w: mapped %d, used %d", ErrSizeMismatch, region.Size, bytesUsed))
		}
		f.Step = sc.Stride
		f.Data = make([]byte, region.Size)
		copy(f.Data, region.Data[:region.Size])
	} else {
		rowLen := sc.Size.Width * enc.BytesPerPixel
		data, err := RemoveStride(region.Data[:region.Size], sc.Size.Height, rowLen, sc.Stride)
		if err != nil {
			return e.drop(subject, err)
		}
		f.Step = rowLen
		f.Data = data
	}

	info := e.calib.CameraInfo()
	info.Header = hdr

	e.pubMu.Lock()
	err := e.sink.Publish(f, info)
	e.pubMu.Unlock()
	if err != nil {
		atomic.AddUint64(&e.publishErrors, 1)
		return faults.RuntimeFrame(subject, fmt.Errorf("emitter: publish: %w", err))
	}

	atomic.AddUint64(&e.emitted, 1)
	atomic.AddUint64(&e.bytesEmitted, uint64(len(f.Data)))
	atomic.StoreInt64(&e.lastFrameNano, e.opts.Now().UnixNano())

	slog.Debug("emitter: frame emitted",
		"seq", f.Sequence,
		"size_bytes", len(f.Data),
		"trace_id", f.TraceID,
	)
	return nil
}

// stamp converts a device timestamp (ns) into the frame time
func (e *Emitter) stamp(deviceNS uint64) time.Time {
	ts := time.Unix(0, int64(deviceNS))
	if !e.opts.UseWallClock {
		return ts
	}
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	if !e.offsetSet {
		e.offset = e.opts.Now().Sub(ts)
		e.offsetSet = true
		slog.Info("emitter: wall clock offset captured", "offset", e.offset)
	}
	return ts.Add(e.offset)
}

func (e *Emitter) drop(subject string, err error) error {
	atomic.AddUint64(&e.dropped, 1)
	return faults.RuntimeFrame(subject, fmt.Errorf("emitter: %w", err))
}

// RemoveStride copies rows rows of rowLen bytes out of src, whose rows
// start stride bytes apart, into a packed buffer.
func RemoveStride(src []byte, rows, rowLen, stride int) ([]byte, error) {
	if rows <= 0 || rowLen <= 0 {
		return nil, fmt.Errorf("%w: %d rows of %d bytes", ErrShortBuffer, rows, rowLen)
	}
	if stride < rowLen {
		return nil, fmt.Errorf("%w: stride %d < row %d", ErrShortBuffer, stride, rowLen)
	}
	if need := (rows-1)*stride + rowLen; len(src) < need {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(src), need)
	}

	dst := make([]byte, rows*rowLen)
	for y := 0; y < rows; y++ {
		copy(dst[y*rowLen:(y+1)*rowLen], src[y*stride:y*stride+rowLen])
	}
	return dst, nil
}

// Stats returns a snapshot of the emitter counters
func (e *Emitter) Stats() Stats {
	s := Stats{
		Emitted:       atomic.LoadUint64(&e.emitted),
		Dropped:       atomic.LoadUint64(&e.dropped),
		PublishErrors: atomic.LoadUint64(&e.publishErrors),
		BytesEmitted:  atomic.LoadUint64(&e.bytesEmitted),
	}
	if ns := atomic.LoadInt64(&e.lastFrameNano); ns != 0 {
		s.LastFrameAt = time.Unix(0, ns)
	}
	return s
}

// Offset returns the captured wall clock offset and whether it is set
func (e *Emitter) Offset() (time.Duration, bool) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.offset, e.offsetSet
}
