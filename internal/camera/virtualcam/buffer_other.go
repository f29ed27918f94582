//go:build !linux

package virtualcam

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

type buffer struct {
	fb *camera.FrameBuffer
}

func newBuffer(size, planes int) (*buffer, error) {
	return nil, errors.New("virtualcam: shared memory buffers require linux")
}

func (b *buffer) fill(seq uint32, cfg camera.StreamConfiguration) {}

func (b *buffer) close() error { return nil }
