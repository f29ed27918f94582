//go:build linux

package virtualcam

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

// buffer is one memfd-backed frame buffer and the device side writable view
// of it.
type buffer struct {
	fd   int
	data []byte
	fb   *camera.FrameBuffer
}

// newBuffer creates a memfd of size bytes and splits it into planes of equal
// length, all sharing the fd.
func newBuffer(size, planes int) (*buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	fd, err := unix.MemfdCreate("virtualcam-frame", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	per := size / planes
	ps := make([]camera.Plane, planes)
	for i := range ps {
		ps[i] = camera.Plane{FD: fd, Offset: i * per, Length: per}
	}
	// last plane takes the remainder
	ps[planes-1].Length = size - (planes-1)*per

	return &buffer{fd: fd, data: data, fb: camera.NewFrameBuffer(ps)}, nil
}

// fill writes a moving gradient so consecutive frames differ
func (b *buffer) fill(seq uint32, cfg camera.StreamConfiguration) {
	for y := 0; y < cfg.Size.Height; y++ {
		row := b.data[y*cfg.Stride : (y+1)*cfg.Stride]
		for x := range row {
			row[x] = byte(uint32(x+y) + seq)
		}
	}
}

func (b *buffer) close() error {
	var first error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			first = fmt.Errorf("munmap: %w", err)
		}
		b.data = nil
	}
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil && first == nil {
			first = fmt.Errorf("close: %w", err)
		}
		b.fd = -1
	}
	return first
}
