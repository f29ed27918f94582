// Package session owns one camera from selection to release.
//
// A Session picks a camera from a manager, acquires it, negotiates a single
// stream configuration against the pixel formats the frame emitter can
// publish, and starts and stops capture.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

var (
	ErrNoCameras         = errors.New("no cameras available")
	ErrCameraNotFound    = errors.New("camera not found")
	ErrNoCommonFormat    = errors.New("camera provides none of the supported pixel formats")
	ErrInvalidFormat     = errors.New("invalid pixel format")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrInvalidConfig     = errors.New("stream configuration invalid")
	ErrNotConfigured     = errors.New("session not configured")
)

// Selector picks a camera. A non-empty Name selects the first camera whose
// id contains it; otherwise Index selects by position.
type Selector struct {
	Name  string
	Index int
}

func (s Selector) String() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", s.Index)
}

// StreamRequest is the stream the caller asks for. Zero values select
// defaults: the first common pixel format, the largest size the camera
// lists for it, and the camera's buffer count.
type StreamRequest struct {
	Role        camera.StreamRole
	PixelFormat string
	Size        camera.Size
	BufferCount int
}

// Session is an acquired camera
type Session struct {
	cam camera.Camera

	mu      sync.Mutex
	config  *camera.Configuration
	running bool
	closed  bool
}

// Open selects and acquires a camera of a started manager.
//
// This method:
//  1. Lists the manager's cameras (none → Configuration error)
//  2. Selects by id substring, falling back to the index
//  3. Acquires the camera (failure → Acquisition error)
func Open(m camera.Manager, sel Selector) (*Session, error) {
	cams := m.Cameras()
	if len(cams) == 0 {
		return nil, faults.Configuration("camera", fmt.Errorf("session: %w", ErrNoCameras))
	}

	ids := make([]string, len(cams))
	for i, c := range cams {
		ids[i] = c.ID()
	}
	slog.Info("session: available cameras", "cameras", ids)

	index := sel.Index
	matched := false
	if sel.Name != "" {
		for i, id := range ids {
			if strings.Contains(id, sel.Name) {
				slog.Info("session: found camera", "name", sel.Name, "index", i, "id", id)
				index = i
				matched = true
				break
			}
		}
	}
	if index < 0 || index >= len(cams) {
		return nil, faults.Configuration("camera", fmt.Errorf("session: %w: %s", ErrCameraNotFound, sel))
	}
	if sel.Name != "" && !matched {
		slog.Warn("session: no camera matches name, falling back to index",
			"name", sel.Name,
			"index", index,
			"id", ids[index],
		)
	}

	cam := cams[index]
	if err := cam.Acquire(); err != nil {
		return nil, faults.Acquisition(cam.ID(), fmt.Errorf("session: acquire: %w", err))
	}

	slog.Info("session: camera acquired", "camera", cam.ID(), "index", index)
	return &Session{cam: cam}, nil
}

// Camera returns the acquired camera
func (s *Session) Camera() camera.Camera { return s.cam }

// Configure negotiates and applies the stream configuration.
//
// The formats considered are those the camera lists that supported also
// accepts, in camera order. An empty requested format selects the first of
// them; a zero size selects the last size listed for the chosen format. The
// camera may adjust the result, which is logged.
func (s *Session) Configure(req StreamRequest, supported func(camera.PixelFormat) bool) (*camera.StreamConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.cam.GenerateConfiguration(req.Role)
	if err != nil || cfg == nil || len(cfg.Streams) == 0 {
		return nil, faults.Configuration("stream_role", fmt.Errorf("session: generate configuration for %s: %w", req.Role, err))
	}
	sc := cfg.At(0)

	common := sc.Formats.Filter(supported)
	if len(common) == 0 {
		return nil, faults.Configuration("pixel_format", fmt.Errorf("session: %w (camera: %s)", ErrNoCommonFormat, sc.Formats))
	}

	if req.PixelFormat == "" {
		sc.PixelFormat = common[0].Format
		slog.Warn("session: no pixel format selected, using default",
			"pixel_format", sc.PixelFormat.String(),
			"formats", common.String(),
		)
	} else {
		f, err := camera.ParsePixelFormat(req.PixelFormat)
		if err != nil {
			return nil, faults.Configuration("pixel_format", fmt.Errorf("session: %w %q: %w", ErrInvalidFormat, req.PixelFormat, err))
		}
		if !common.Contains(f) {
			return nil, faults.Configuration("pixel_format", fmt.Errorf("session: %w %q (supported: %s)", ErrUnsupportedFormat, req.PixelFormat, common))
		}
		sc.PixelFormat = f
	}

	if req.Size.IsNull() {
		sizes := sc.Formats.Sizes(sc.PixelFormat)
		if len(sizes) > 0 {
			sc.Size = sizes[len(sizes)-1]
		}
		slog.Warn("session: no dimensions selected, auto-selecting", "size", sc.Size.String())
	} else {
		sc.Size = req.Size
	}
	if req.BufferCount > 0 {
		sc.BufferCount = req.BufferCount
	}

	selected := *sc
	switch s.cam.Validate(cfg) {
	case camera.ConfigValid:
	case camera.ConfigAdjusted:
		slog.Warn("session: stream configuration adjusted",
			"from", selected.String(),
			"to", sc.String(),
		)
	default:
		return nil, faults.Configuration("stream", fmt.Errorf("session: %w: %s", ErrInvalidConfig, selected))
	}

	if err := s.cam.Configure(cfg); err != nil {
		return nil, faults.Acquisition(s.cam.ID(), fmt.Errorf("session: configure: %w", err))
	}
	s.config = cfg

	slog.Info("session: camera configured",
		"camera", s.cam.ID(),
		"stream", sc.String(),
		"stride", sc.Stride,
		"frame_size", sc.FrameSize,
		"buffers", sc.BufferCount,
	)
	return sc, nil
}

// Stream returns the configured stream, or nil
func (s *Session) Stream() camera.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return nil
	}
	return s.config.At(0).Stream()
}

// Start starts capture with the initial controls
func (s *Session) Start(controls camera.ControlList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return faults.Acquisition(s.cam.ID(), fmt.Errorf("session: %w", ErrNotConfigured))
	}
	if err := s.cam.Start(controls); err != nil {
		return faults.Acquisition(s.cam.ID(), fmt.Errorf("session: start: %w", err))
	}
	s.running = true
	slog.Info("session: capture started", "camera", s.cam.ID(), "controls", len(controls))
	return nil
}

// Stop stops capture. Queued requests complete as cancelled. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.cam.Stop(); err != nil {
		return fmt.Errorf("session: stop: %w", err)
	}
	slog.Info("session: capture stopped", "camera", s.cam.ID())
	return nil
}

// Release gives the camera back. Idempotent.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.cam.Release(); err != nil {
		return fmt.Errorf("session: release: %w", err)
	}
	s.closed = true
	slog.Info("session: camera released", "camera", s.cam.ID())
	return nil
}
