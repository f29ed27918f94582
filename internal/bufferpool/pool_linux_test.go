//go:build linux

package bufferpool

import (
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera/virtualcam"
)

// TestMapAll_SharedMemory maps real memfd buffers and checks that frames the
// device writes are visible through the read-only mapping.
func TestMapAll_SharedMemory(t *testing.T) {
	cam := virtualcam.New(virtualcam.Options{Planes: 2, RowPadding: 16})
	if err := cam.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	cfg, err := cam.GenerateConfiguration(camera.RoleRaw)
	if err != nil {
		t.Fatalf("GenerateConfiguration failed: %v", err)
	}
	cfg.At(0).Size = camera.Size{Width: 320, Height: 240}
	cfg.At(0).BufferCount = 3
	if err := cam.Configure(cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	sc := cfg.At(0)

	p := New(cam)
	if err := p.Allocate(sc.Stream()); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer func() {
		p.ReleaseAll()
		p.Free()
	}()
	if err := p.MapAll(); err != nil {
		t.Fatalf("MapAll failed: %v", err)
	}

	if p.Len() != 3 {
		t.Fatalf("Len = %d, want 3", p.Len())
	}
	for h := 0; h < p.Len(); h++ {
		r, ok := p.Lookup(h)
		if !ok {
			t.Fatalf("handle %d not mapped", h)
		}
		if r.Size != sc.FrameSize {
			t.Errorf("buffer %d span = %d, want frame size %d", h, r.Size, sc.FrameSize)
		}
	}

	req, err := cam.CreateRequest(0)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if err := req.AddBuffer(sc.Stream(), p.Buffer(0)); err != nil {
		t.Fatalf("AddBuffer failed: %v", err)
	}
	if err := cam.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer cam.Stop()
	if err := cam.QueueRequest(req); err != nil {
		t.Fatalf("QueueRequest failed: %v", err)
	}
	if !cam.Step(camera.RequestComplete) {
		t.Fatal("Step found no pending request")
	}

	r, _ := p.Lookup(0)
	for x := 0; x < sc.Stride; x++ {
		if r.Data[x] != byte(x) {
			t.Fatalf("byte %d = %d through mapping, want %d", x, r.Data[x], byte(x))
		}
	}
	if r.Data[sc.Stride] != 1 {
		t.Errorf("first byte of row 1 = %d, want 1", r.Data[sc.Stride])
	}
}
