//go:build !(linux && (amd64 || arm64))

// Package v4l2 is the Video4Linux2 camera backend. It is only available on
// 64-bit Linux.
package v4l2

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

var (
	ErrMultipleStreams = errors.New("v4l2: only one stream per camera")
	ErrUnsupported     = errors.New("v4l2: not supported on this platform")
)

// Manager reports ErrUnsupported from Start
type Manager struct {
	pattern string
}

// NewManager returns a manager for the device nodes matching pattern
func NewManager(pattern string) *Manager {
	return &Manager{pattern: pattern}
}

func (m *Manager) Start() error { return ErrUnsupported }

func (m *Manager) Stop() {}

func (m *Manager) Cameras() []camera.Camera { return nil }
