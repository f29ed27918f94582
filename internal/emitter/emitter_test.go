package emitter

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/bufferpool"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

type fakeStream struct {
	cfg camera.StreamConfiguration
}

func (s *fakeStream) Configuration() camera.StreamConfiguration { return s.cfg }

type fakeMappings map[int]bufferpool.Region

func (m fakeMappings) Lookup(handle int) (bufferpool.Region, bool) {
	r, ok := m[handle]
	return r, ok
}

type capture struct {
	frames []Frame
	infos  []calibration.CameraInfo
	err    error
}

func (c *capture) Publish(f Frame, info calibration.CameraInfo) error {
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	c.infos = append(c.infos, info)
	return nil
}

// rig is one stream with one mapped buffer of width×height RGB pixels and
// padding bytes (0xFF) at the end of every row
type rig struct {
	stream  *fakeStream
	maps    fakeMappings
	sink    *capture
	request *camera.Request
	fb      *camera.FrameBuffer
}

func newRig(t *testing.T, width, height, padding int) *rig {
	t.Helper()
	stride := width*3 + padding
	size := stride * height

	data := make([]byte, size)
	for y := 0; y < height; y++ {
		for x := 0; x < stride; x++ {
			if x < width*3 {
				data[y*stride+x] = byte(y + x)
			} else {
				data[y*stride+x] = 0xFF
			}
		}
	}

	s := &fakeStream{cfg: camera.StreamConfiguration{
		PixelFormat: camera.FormatRGB24,
		Size:        camera.Size{Width: width, Height: height},
		Stride:      stride,
		FrameSize:   size,
	}}
	fb := camera.NewFrameBuffer([]camera.Plane{{FD: 3, Offset: 0, Length: size}})
	r := camera.NewRequest(0)
	if err := r.AddBuffer(s, fb); err != nil {
		t.Fatalf("AddBuffer failed: %v", err)
	}

	rg := &rig{
		stream:  s,
		maps:    fakeMappings{0: {Data: data, Size: size}},
		sink:    &capture{},
		request: r,
		fb:      fb,
	}
	rg.complete(0, 1_000_000, size)
	return rg
}

// complete marks the request complete with the given frame metadata
func (rg *rig) complete(seq uint32, timestampNS uint64, bytesUsed int) {
	rg.fb.SetMetadata(camera.FrameMetadata{
		Status:    camera.FrameSuccess,
		Sequence:  seq,
		Timestamp: timestampNS,
		Planes:    []camera.PlaneMetadata{{BytesUsed: bytesUsed}},
	})
	rg.request.Complete(camera.RequestComplete)
}

func (rg *rig) emitter(t *testing.T, opts Options) *Emitter {
	t.Helper()
	e, err := New(Config{
		Stream:   rg.stream,
		Mappings: rg.maps,
		Sink:     rg.sink,
		Options:  opts,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestNew_RejectsUnsupportedFormat(t *testing.T) {
	s := &fakeStream{cfg: camera.StreamConfiguration{PixelFormat: camera.FormatMJPEG}}
	_, err := New(Config{Stream: s, Mappings: fakeMappings{}, Sink: &capture{}})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if c, _ := faults.CategoryOf(err); c != faults.CategoryConfiguration {
		t.Errorf("category = %v, want configuration", c)
	}
}

func TestEmit_VerbatimCopy(t *testing.T) {
	rg := newRig(t, 8, 4, 8)
	e := rg.emitter(t, Options{FrameID: "camera_optical"})

	if err := e.Emit(rg.request, 0); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(rg.sink.frames) != 1 {
		t.Fatalf("published %d frames, want 1", len(rg.sink.frames))
	}

	f := rg.sink.frames[0]
	region := rg.maps[0]
	if !bytes.Equal(f.Data, region.Data) {
		t.Error("default mode must copy the mapped bytes verbatim")
	}
	if &f.Data[0] == &region.Data[0] {
		t.Error("frame data must not alias the mapped buffer")
	}
	if f.Step != rg.stream.cfg.Stride {
		t.Errorf("Step = %d, want stride %d", f.Step, rg.stream.cfg.Stride)
	}
	if f.Encoding != "rgb8" || f.Width != 8 || f.Height != 4 {
		t.Errorf("frame = %s %dx%d", f.Encoding, f.Width, f.Height)
	}
	if f.Header.FrameID != "camera_optical" {
		t.Errorf("FrameID = %q", f.Header.FrameID)
	}
	if f.TraceID == "" {
		t.Error("TraceID should be set")
	}
	if rg.sink.infos[0].Header != f.Header {
		t.Error("camera info must carry the frame header")
	}

	st := e.Stats()
	if st.Emitted != 1 || st.BytesEmitted != uint64(len(f.Data)) {
		t.Errorf("stats = %+v", st)
	}
}

func TestEmit_SizeMismatchDropsFrame(t *testing.T) {
	rg := newRig(t, 8, 4, 0)
	rg.complete(0, 1, rg.maps[0].Size-1)
	e := rg.emitter(t, Options{})

	err := e.Emit(rg.request, 0)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if faults.IsFatal(err) {
		t.Error("frame errors must not be fatal")
	}
	if len(rg.sink.frames) != 0 {
		t.Error("mismatched frame must not be published")
	}
	if e.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", e.Stats().Dropped)
	}
}

func TestEmit_FailedCaptureDropsFrame(t *testing.T) {
	for _, removeStride := range []bool{false, true} {
		for _, status := range []camera.FrameStatus{camera.FrameError, camera.FrameCancelled} {
			t.Run(fmt.Sprintf("%s/remove_stride=%v", status, removeStride), func(t *testing.T) {
				rg := newRig(t, 8, 4, 4)
				md := rg.fb.Metadata()
				md.Status = status
				rg.fb.SetMetadata(md)
				e := rg.emitter(t, Options{RemoveStride: removeStride})

				err := e.Emit(rg.request, 0)
				if !errors.Is(err, ErrFrameStatus) {
					t.Fatalf("expected ErrFrameStatus, got %v", err)
				}
				if c, ok := faults.CategoryOf(err); !ok || c != faults.CategoryRuntimeFrame {
					t.Errorf("category = %v %v, want runtime-frame", c, ok)
				}
				if len(rg.sink.frames) != 0 {
					t.Errorf("published %d frames from a failed capture", len(rg.sink.frames))
				}
				if st := e.Stats(); st.Dropped != 1 || st.Emitted != 0 {
					t.Errorf("stats = %+v", st)
				}
			})
		}
	}
}

func TestEmit_UnmappedHandle(t *testing.T) {
	rg := newRig(t, 4, 2, 0)
	e := rg.emitter(t, Options{})
	if err := e.Emit(rg.request, 7); !errors.Is(err, ErrNotMapped) {
		t.Errorf("expected ErrNotMapped, got %v", err)
	}
}

func TestEmit_PublishError(t *testing.T) {
	rg := newRig(t, 4, 2, 0)
	rg.sink.err = errors.New("broker down")
	e := rg.emitter(t, Options{})

	err := e.Emit(rg.request, 0)
	if c, _ := faults.CategoryOf(err); c != faults.CategoryRuntimeFrame {
		t.Errorf("category = %v, want runtime frame", c)
	}
	if e.Stats().PublishErrors != 1 {
		t.Errorf("PublishErrors = %d, want 1", e.Stats().PublishErrors)
	}
}

func TestEmit_RemoveStride(t *testing.T) {
	const width, height, padding = 10, 6, 12
	rg := newRig(t, width, height, padding)
	// bytes used may differ from the mapping when padding is removed
	rg.complete(0, 1, width*3*height)
	e := rg.emitter(t, Options{RemoveStride: true})

	if err := e.Emit(rg.request, 0); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	f := rg.sink.frames[0]
	if f.Step != width*3 {
		t.Errorf("Step = %d, want %d", f.Step, width*3)
	}
	if len(f.Data) != width*3*height {
		t.Fatalf("len(Data) = %d, want %d", len(f.Data), width*3*height)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width*3; x++ {
			if got := f.Data[y*width*3+x]; got != byte(y+x) {
				t.Fatalf("pixel byte (%d,%d) = %d, want %d", x, y, got, byte(y+x))
			}
		}
	}
}

// TestRemoveStride_Idempotent checks, over random geometries, that removing
// the stride from already packed rows changes nothing.
func TestRemoveStride_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		rows := 1 + rng.Intn(32)
		rowLen := 1 + rng.Intn(64)
		stride := rowLen + rng.Intn(32)

		src := make([]byte, rows*stride)
		rng.Read(src)

		once, err := RemoveStride(src, rows, rowLen, stride)
		if err != nil {
			t.Fatalf("iteration %d: %v", iter, err)
		}
		twice, err := RemoveStride(once, rows, rowLen, rowLen)
		if err != nil {
			t.Fatalf("iteration %d: %v", iter, err)
		}
		if !bytes.Equal(once, twice) {
			t.Fatalf("iteration %d: removal not idempotent (rows=%d row=%d stride=%d)", iter, rows, rowLen, stride)
		}
	}
}

func TestRemoveStride_RejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name                 string
		size, rows, row, str int
	}{
		{"stride below row", 100, 2, 10, 8},
		{"short buffer", 15, 2, 10, 10},
		{"no rows", 10, 0, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RemoveStride(make([]byte, tt.size), tt.rows, tt.row, tt.str); !errors.Is(err, ErrShortBuffer) {
				t.Errorf("expected ErrShortBuffer, got %v", err)
			}
		})
	}
}

// TestEmit_WallClockAnchoring verifies that the wall clock offset is taken
// once, from the first frame, so frame spacing follows the device clock
// even when the wall clock jumps.
func TestEmit_WallClockAnchoring(t *testing.T) {
	rg := newRig(t, 4, 2, 0)
	size := rg.maps[0].Size

	wall := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := wall
	e := rg.emitter(t, Options{UseWallClock: true, Now: func() time.Time { return now }})

	deviceNS := []uint64{5_000_000_000, 5_033_000_000, 5_066_000_000, 5_100_000_000}
	jumps := []time.Duration{0, 2 * time.Second, -time.Second, 10 * time.Millisecond}

	for i, ts := range deviceNS {
		now = now.Add(jumps[i])
		rg.complete(uint32(i), ts, size)
		if err := e.Emit(rg.request, 0); err != nil {
			t.Fatalf("frame %d: Emit failed: %v", i, err)
		}
	}

	offset, ok := e.Offset()
	if !ok {
		t.Fatal("offset not captured")
	}
	if want := wall.Sub(time.Unix(0, int64(deviceNS[0]))); offset != want {
		t.Errorf("offset = %v, want %v", offset, want)
	}

	frames := rg.sink.frames
	if !frames[0].Header.Stamp.Equal(wall) {
		t.Errorf("first stamp = %v, want %v", frames[0].Header.Stamp, wall)
	}
	for i := 1; i < len(frames); i++ {
		got := frames[i].Header.Stamp.Sub(frames[i-1].Header.Stamp)
		want := time.Duration(deviceNS[i] - deviceNS[i-1])
		if got != want {
			t.Errorf("frame %d spacing = %v, want device spacing %v", i, got, want)
		}
	}
}

func TestEmit_DeviceClock(t *testing.T) {
	rg := newRig(t, 4, 2, 0)
	rg.complete(3, 123_456_789, rg.maps[0].Size)
	e := rg.emitter(t, Options{})

	if err := e.Emit(rg.request, 0); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	f := rg.sink.frames[0]
	if f.Header.Stamp.UnixNano() != 123_456_789 {
		t.Errorf("stamp = %d ns, want device timestamp", f.Header.Stamp.UnixNano())
	}
	if f.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", f.Sequence)
	}
	if _, ok := e.Offset(); ok {
		t.Error("no offset should be captured without wall clock anchoring")
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		format camera.PixelFormat
		want   bool
	}{
		{camera.FormatYUYV, true},
		{camera.FormatRGB24, true},
		{camera.FormatGrey, true},
		{camera.FormatSRGGB8, true},
		{camera.FormatMJPEG, false},
		{camera.FormatNV12, false},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := Supported(tt.format); got != tt.want {
				t.Errorf("Supported(%s) = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}

func ExampleRemoveStride() {
	// two rows of 3 bytes, padded to a stride of 4
	src := []byte{1, 2, 3, 0, 4, 5, 6, 0}
	packed, err := RemoveStride(src, 2, 3, 4)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(packed)
	// Output: [1 2 3 4 5 6]
}
