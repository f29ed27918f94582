package publish

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/framebus"
)

type countingSink struct {
	n    int
	seqs []uint32
	err  error
}

func (s *countingSink) Publish(f emitter.Frame, _ calibration.CameraInfo) error {
	s.n++
	s.seqs = append(s.seqs, f.Sequence)
	return s.err
}

func TestMulti_CallsEverySink(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &countingSink{}, &countingSink{err: boom}, &countingSink{}

	err := Multi{a, b, c}.Publish(emitter.Frame{Sequence: 1}, calibration.CameraInfo{})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to contain boom, got %v", err)
	}
	if a.n != 1 || b.n != 1 || c.n != 1 {
		t.Errorf("calls = %d %d %d, want 1 1 1", a.n, b.n, c.n)
	}

	if err := (Multi{a, c}).Publish(emitter.Frame{}, calibration.CameraInfo{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	f := emitter.Frame{
		Header:   calibration.Header{Stamp: stamp, FrameID: "cam0"},
		Width:    4,
		Height:   2,
		Encoding: "mono8",
		Step:     4,
		Data:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Sequence: 42,
		TraceID:  "trace",
	}

	tests := []struct {
		name      string
		info      calibration.CameraInfo
		wantCalib bool
	}{
		{"uncalibrated", calibration.CameraInfo{Width: 4, Height: 2}, false},
		{"calibrated", calibration.CameraInfo{Width: 4, Height: 2, K: [9]float64{100, 0, 2, 0, 100, 1, 0, 0, 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(f, tt.info)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			env, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if env.StampNS != stamp.UnixNano() || env.Sequence != 42 || env.FrameID != "cam0" {
				t.Errorf("header = %d %d %q", env.StampNS, env.Sequence, env.FrameID)
			}
			if !bytes.Equal(env.Data, f.Data) || env.Step != 4 || env.Encoding != "mono8" {
				t.Errorf("image = %v step %d %s", env.Data, env.Step, env.Encoding)
			}
			if (env.CameraInfo != nil) != tt.wantCalib {
				t.Fatalf("camera info present = %v, want %v", env.CameraInfo != nil, tt.wantCalib)
			}
			if tt.wantCalib && env.CameraInfo.K[0] != 100 {
				t.Errorf("K = %v", env.CameraInfo.K)
			}
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Error("expected an error for invalid msgpack")
	}
}

func TestPump_DeliversUntilCancelled(t *testing.T) {
	bus := framebus.New()
	defer bus.Close()
	recv, err := bus.SubscribeLatest("sink")
	if err != nil {
		t.Fatal(err)
	}

	sink := &countingSink{}
	p := NewPump("test", recv, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for seq := uint32(1); seq <= 3; seq++ {
		bus.Publish(emitter.Frame{Sequence: seq}, calibration.CameraInfo{})
		deadline := time.Now().Add(time.Second)
		for p.Stats().Delivered < uint64(seq) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on cancel")
	}
	if got := p.Stats().Delivered; got != 3 {
		t.Errorf("Delivered = %d, want 3", got)
	}
}

func TestPump_StopsWhenReceiverCloses(t *testing.T) {
	bus := framebus.New()
	recv, _ := bus.SubscribeLatest("sink")
	sink := &countingSink{err: errors.New("down")}
	p := NewPump("failing", recv, sink)

	bus.Publish(emitter.Frame{Sequence: 1}, calibration.CameraInfo{})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for p.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop when the bus closed")
	}
	if p.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", p.Stats().Failed)
	}
}
