package gstsink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
)

func TestCapsFor(t *testing.T) {
	tests := []struct {
		frame emitter.Frame
		want  string
	}{
		{emitter.Frame{Encoding: "rgb8", Width: 640, Height: 480},
			"video/x-raw,format=RGB,width=640,height=480,framerate=0/1"},
		{emitter.Frame{Encoding: "yuv422_yuy2", Width: 320, Height: 240},
			"video/x-raw,format=YUY2,width=320,height=240,framerate=0/1"},
		{emitter.Frame{Encoding: "mono16", Width: 8, Height: 8},
			"video/x-raw,format=GRAY16_LE,width=8,height=8,framerate=0/1"},
		{emitter.Frame{Encoding: "mono16", Width: 8, Height: 8, BigEndian: true},
			"video/x-raw,format=GRAY16_BE,width=8,height=8,framerate=0/1"},
		{emitter.Frame{Encoding: "bayer_grbg8", Width: 1280, Height: 720},
			"video/x-bayer,format=grbg,width=1280,height=720,framerate=0/1"},
	}
	for _, tt := range tests {
		t.Run(tt.frame.Encoding, func(t *testing.T) {
			got, err := CapsFor(tt.frame)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("CapsFor() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := CapsFor(emitter.Frame{Encoding: "jpeg"}); !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("expected ErrUnknownEncoding, got %v", err)
	}
}

// TestCapsFor_CoversEmitterEncodings keeps the caps table in step with the
// encodings the emitter can produce.
func TestCapsFor_CoversEmitterEncodings(t *testing.T) {
	for _, enc := range emitter.Encodings() {
		vf, ok := encodings[enc.Name]
		if !ok {
			t.Errorf("no caps for emitter encoding %q", enc.Name)
			continue
		}
		if vf.bytesPerPixel != enc.BytesPerPixel {
			t.Errorf("%s: %d bytes per pixel, emitter says %d", enc.Name, vf.bytesPerPixel, enc.BytesPerPixel)
		}
	}
}

func TestStride(t *testing.T) {
	tests := []struct {
		width, bpp, want int
	}{
		{640, 3, 1920},
		{3, 3, 12},
		{5, 1, 8},
		{4, 1, 4},
		{7, 2, 16},
		{1, 4, 4},
	}
	for _, tt := range tests {
		if got := Stride(tt.width, tt.bpp); got != tt.want {
			t.Errorf("Stride(%d, %d) = %d, want %d", tt.width, tt.bpp, got, tt.want)
		}
	}
}

func TestRepack(t *testing.T) {
	t.Run("already packed", func(t *testing.T) {
		f := emitter.Frame{Encoding: "mono8", Width: 4, Height: 2, Step: 4, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
		got, err := Repack(f)
		if err != nil {
			t.Fatal(err)
		}
		if &got[0] != &f.Data[0] {
			t.Error("expected the frame data to be passed through")
		}
	})

	t.Run("padded rows", func(t *testing.T) {
		// 2x2 rgb8 with step 8: 6 pixel bytes and 2 bytes of padding per row
		f := emitter.Frame{
			Encoding: "rgb8", Width: 2, Height: 2, Step: 8,
			Data: []byte{
				1, 2, 3, 4, 5, 6, 0xFF, 0xFF,
				7, 8, 9, 10, 11, 12, 0xFF, 0xFF,
			},
		}
		got, err := Repack(f)
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{
			1, 2, 3, 4, 5, 6, 0, 0,
			7, 8, 9, 10, 11, 12, 0, 0,
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Repack() = %v, want %v", got, want)
		}
	})

	t.Run("packed rows widened", func(t *testing.T) {
		// 3x2 mono8 packed (step 3) needs a 4 byte stride
		f := emitter.Frame{Encoding: "mono8", Width: 3, Height: 2, Step: 3, Data: []byte{1, 2, 3, 4, 5, 6}}
		got, err := Repack(f)
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{1, 2, 3, 0, 4, 5, 6, 0}
		if !bytes.Equal(got, want) {
			t.Errorf("Repack() = %v, want %v", got, want)
		}
	})

	t.Run("short", func(t *testing.T) {
		f := emitter.Frame{Encoding: "mono8", Width: 4, Height: 2, Step: 4, Data: []byte{1, 2, 3}}
		if _, err := Repack(f); !errors.Is(err, ErrShortFrame) {
			t.Errorf("expected ErrShortFrame, got %v", err)
		}
	})
}
