//go:build linux

package cameracapture

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera/virtualcam"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/statusapi"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/warmup"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend = config.BackendVirtual
	cfg.Stream.PixelFormat = "YUYV"
	cfg.Stream.Width = 320
	cfg.Stream.Height = 240
	cfg.Stream.BufferCount = 4
	cfg.Frame.ID = "test_optical_frame"
	return cfg
}

func intPtr(v int) *int { return &v }

// startDriver initializes a driver over a manually stepped virtual camera
func startDriver(t *testing.T, cfg *config.Config) (*Driver, *virtualcam.Camera) {
	t.Helper()
	cam := virtualcam.New(virtualcam.Options{})
	d := New(WithManager(virtualcam.NewManager(cam)))
	if err := d.Initialize(context.Background(), cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { d.Shutdown() })
	return d, cam
}

func TestDriver_Lifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Controls.ExposureTime = intPtr(10000)
	d, cam := startDriver(t, cfg)

	s := d.Stats()
	if !s.Running || s.PoolDepth != 4 || s.InFlight != 4 {
		t.Fatalf("after Initialize: running=%v depth=%d in flight=%d", s.Running, s.PoolDepth, s.InFlight)
	}
	if s.Resolution != "320x240" || s.PixelFormat != "YUYV" || s.Camera != cam.ID() {
		t.Errorf("stream = %s %s on %s", s.Resolution, s.PixelFormat, s.Camera)
	}
	if s.MappedBytes < 4*320*240*2 {
		t.Errorf("mapped bytes = %d", s.MappedBytes)
	}

	frames := make(chan framebus.Delivery, 8)
	if err := d.Subscribe("test", frames); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !cam.Step(camera.RequestComplete) {
			t.Fatalf("step %d: no pending request", i)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case dl := <-frames:
			f := dl.Frame
			if f.Sequence != uint32(i) {
				t.Errorf("frame %d: sequence %d", i, f.Sequence)
			}
			if f.Width != 320 || f.Height != 240 || f.Encoding != "yuv422_yuy2" {
				t.Errorf("frame %d: %dx%d %s", i, f.Width, f.Height, f.Encoding)
			}
			if f.Header.FrameID != "test_optical_frame" || dl.Info.Header.FrameID != "test_optical_frame" {
				t.Errorf("frame %d: frame id %q / %q", i, f.Header.FrameID, dl.Info.Header.FrameID)
			}
			if f.TraceID == "" {
				t.Errorf("frame %d: no trace id", i)
			}
		default:
			t.Fatalf("frame %d not delivered", i)
		}
	}

	s = d.Stats()
	if s.Completed != 3 || s.Emitted != 3 || s.InFlight != 4 {
		t.Errorf("after 3 steps: completed=%d emitted=%d in flight=%d", s.Completed, s.Emitted, s.InFlight)
	}
	if v, ok := cam.AppliedControls()[camera.ControlExposureTime]; !ok || v.Int() != 10000 {
		t.Errorf("configured ExposureTime not applied: %v %v", v, ok)
	}

	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Errorf("second Shutdown should be a no-op: %v", err)
	}
	if cam.Stats().Cancelled != 4 {
		t.Errorf("cancelled on stop = %d, want 4", cam.Stats().Cancelled)
	}
	if d.Stats().Running {
		t.Error("driver still running after Shutdown")
	}
	if err := d.Subscribe("late", frames); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Subscribe after Shutdown: expected ErrNotRunning, got %v", err)
	}
	if err := cam.Acquire(); err != nil {
		t.Errorf("camera should be acquirable after Shutdown: %v", err)
	}
	cam.Release()
}

func TestDriver_SetControlReachesDevice(t *testing.T) {
	d, cam := startDriver(t, testConfig())

	// one request completes before the change
	cam.Step(camera.RequestComplete)

	if err := d.SetControl("ExposureTime", int64(12000)); err != nil {
		t.Fatalf("SetControl failed: %v", err)
	}
	if err := d.SetControl("ExposureTime", int64(50)); err == nil {
		t.Error("ExposureTime below the minimum should be rejected")
	}

	// every queued request was armed before the change; the first one
	// re-armed afterwards carries it
	for i := 0; i < 5; i++ {
		cam.Step(camera.RequestComplete)
	}
	if v := cam.AppliedControls()[camera.ControlExposureTime]; v.Int() != 12000 {
		t.Errorf("ExposureTime on device = %s, want 12000", v)
	}

	var found bool
	for _, c := range d.Controls() {
		if c.Name == "ExposureTime" {
			found = true
			if !c.Committed || c.Value != "12000" {
				t.Errorf("ExposureTime control = %+v", c)
			}
		}
	}
	if !found {
		t.Error("ExposureTime not listed")
	}
}

func TestDriver_RejectedParameterKeepsDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Controls.ExposureTime = intPtr(50)
	d, _ := startDriver(t, cfg)

	for _, c := range d.Controls() {
		if c.Name == "ExposureTime" && c.Committed {
			t.Errorf("rejected ExposureTime committed: %+v", c)
		}
	}
}

func TestDriver_InitializeFailures(t *testing.T) {
	tests := []struct {
		name     string
		cams     []*virtualcam.Camera
		mutate   func(*config.Config)
		wantErr  error
		category faults.Category
	}{
		{"no cameras", nil, func(*config.Config) {}, session.ErrNoCameras, faults.CategoryConfiguration},
		{"unsupported format", []*virtualcam.Camera{virtualcam.New(virtualcam.Options{})},
			func(c *config.Config) { c.Stream.PixelFormat = "MJPEG" }, session.ErrUnsupportedFormat, faults.CategoryConfiguration},
		{"unknown camera", []*virtualcam.Camera{virtualcam.New(virtualcam.Options{})},
			func(c *config.Config) { c.Camera.Index = 3 }, session.ErrCameraNotFound, faults.CategoryConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			d := New(WithManager(virtualcam.NewManager(tt.cams...)))

			err := d.Initialize(context.Background(), cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if c, ok := faults.CategoryOf(err); !ok || c != tt.category {
				t.Errorf("category = %v %v, want %v", c, ok, tt.category)
			}
			if !faults.IsFatal(err) {
				t.Error("startup failure should be fatal")
			}
			for _, cam := range tt.cams {
				if err := cam.Acquire(); err != nil {
					t.Errorf("camera left acquired: %v", err)
				}
				cam.Release()
			}
			if d.Stats().Running {
				t.Error("driver running after failed Initialize")
			}
		})
	}
}

func TestDriver_InitializeTwice(t *testing.T) {
	d, _ := startDriver(t, testConfig())
	if err := d.Initialize(context.Background(), testConfig()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
	if err := New().Initialize(context.Background(), nil); !errors.Is(err, ErrNilConfig) {
		t.Errorf("expected ErrNilConfig, got %v", err)
	}
}

func TestDriver_Health(t *testing.T) {
	d := New()
	if h := d.Health(); h.Running || h.Reason == "" {
		t.Errorf("idle driver health = %+v", h)
	}

	d, cam := startDriver(t, testConfig())
	cam.Step(camera.RequestComplete)
	h := d.Health()
	if !h.Running || h.Camera != cam.ID() || h.Stream != "320x240-YUYV" {
		t.Errorf("running driver health = %+v", h)
	}
}

func TestDriver_StatusAPI(t *testing.T) {
	d, cam := startDriver(t, testConfig())
	cam.Step(camera.RequestComplete)
	srv := statusapi.New(":0", d.StatusProvider())

	get := func(path string) (int, string) {
		resp, err := srv.App().Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, body := get("/health"); code != 200 {
		t.Errorf("/health = %d %s", code, body)
	}
	code, body := get("/stats")
	if code != 200 || !strings.Contains(body, `"pool_depth":4`) || !strings.Contains(body, `"emitted":1`) {
		t.Errorf("/stats = %d %s", code, body)
	}
	if code, body := get("/controls/AeEnable"); code != 200 || !strings.Contains(body, `"type":"bool"`) {
		t.Errorf("/controls/AeEnable = %d %s", code, body)
	}
}

func TestDriver_Warmup(t *testing.T) {
	if testing.Short() {
		t.Skip("warm-up runs in real time")
	}

	if _, err := New().Warmup(context.Background(), time.Millisecond); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Warmup before Initialize: expected ErrNotRunning, got %v", err)
	}

	cfg := testConfig()
	cfg.Virtual.FPS = 100
	d := New()
	if err := d.Initialize(context.Background(), cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer d.Shutdown()

	stats, err := d.Warmup(context.Background(), 300*time.Millisecond)
	if err != nil && !errors.Is(err, warmup.ErrUnstable) {
		t.Fatalf("Warmup failed: %v", err)
	}
	if stats.Frames < 3 {
		t.Errorf("warm-up saw %d frames", stats.Frames)
	}
	if stats.FPSMean <= 0 {
		t.Errorf("mean FPS = %.2f", stats.FPSMean)
	}
	if n := d.Stats().Subscribers; n != 0 {
		t.Errorf("warm-up subscriber left on the bus (%d subscribers)", n)
	}
}
