// Package bufferpool maps device frame buffers into the process.
//
// Every buffer is mapped once, read-only and shared, right after allocation
// and stays mapped until teardown. Requests refer to buffers by a small
// integer handle (the buffer's index in the pool), so the completion path
// finds a mapping without any search or allocation.
package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

var (
	ErrInvalidOffset               = errors.New("plane offset is invalid")
	ErrInvalidDescriptor           = errors.New("plane file descriptor is invalid")
	ErrInconsistentPlaneDescriptor = errors.New("plane file descriptors differ")
	ErrMappingFailed               = errors.New("mapping failed")
	ErrNoBuffers                   = errors.New("allocator returned no buffers")
	ErrAlreadyAllocated            = errors.New("pool already allocated")
	ErrNotAllocated                = errors.New("pool not allocated")
)

// Mapper maps and unmaps buffer memory. The default maps with mmap(2).
type Mapper interface {
	Map(fd, length int) ([]byte, error)
	Unmap(data []byte) error
}

// Region is the mapped memory of one buffer
type Region struct {
	// Data covers the buffer from offset 0 to Size
	Data []byte
	Size int
}

type entry struct {
	fb   *camera.FrameBuffer
	fd   int
	span int
	data []byte
}

// Pool owns the mappings of one stream's buffers
type Pool struct {
	allocator camera.Allocator
	mapper    Mapper

	mu      sync.RWMutex
	stream  camera.Stream
	entries []entry
}

// Option configures a Pool
type Option func(*Pool)

// WithMapper replaces the mmap based mapper
func WithMapper(m Mapper) Option {
	return func(p *Pool) { p.mapper = m }
}

// New returns an empty pool allocating through a
func New(a camera.Allocator, opts ...Option) *Pool {
	p := &Pool{allocator: a, mapper: defaultMapper{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Allocate obtains the stream's buffers from the allocator and validates
// their plane layout.
//
// Every plane must have a valid offset and fd, and all planes of a buffer
// must share one fd. The buffer's span is the furthest plane end
// (max offset+length). Errors are faults.Buffer errors naming the buffer.
func (p *Pool) Allocate(s camera.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entries != nil {
		return faults.Buffer("pool", ErrAlreadyAllocated)
	}

	buffers, err := p.allocator.AllocateBuffers(s)
	if err != nil {
		return faults.Buffer("allocator", fmt.Errorf("bufferpool: allocate: %w", err))
	}
	if len(buffers) == 0 {
		return faults.Buffer("allocator", ErrNoBuffers)
	}

	entries := make([]entry, 0, len(buffers))
	for i, fb := range buffers {
		fd, span, err := layout(fb.Planes())
		if err != nil {
			if ferr := p.allocator.FreeBuffers(s); ferr != nil {
				slog.Warn("bufferpool: failed to free rejected buffers", "error", ferr)
			}
			return faults.Buffer(fmt.Sprintf("buffer %d", i), fmt.Errorf("bufferpool: %w", err))
		}
		entries = append(entries, entry{fb: fb, fd: fd, span: span})
	}

	p.stream = s
	p.entries = entries

	slog.Info("bufferpool: buffers allocated",
		"count", len(entries),
		"span", entries[0].span,
		"planes", len(buffers[0].Planes()),
	)
	return nil
}

// layout validates planes and returns their shared fd and span
func layout(planes []camera.Plane) (fd, span int, err error) {
	if len(planes) == 0 {
		return -1, 0, fmt.Errorf("%w: buffer has no planes", ErrInvalidDescriptor)
	}
	fd = -1
	for j, pl := range planes {
		if pl.Offset == camera.InvalidOffset || pl.Offset < 0 {
			return -1, 0, fmt.Errorf("%w (plane %d)", ErrInvalidOffset, j)
		}
		if end := pl.Offset + pl.Length; end > span {
			span = end
		}
		if pl.FD < 0 {
			return -1, 0, fmt.Errorf("%w (plane %d)", ErrInvalidDescriptor, j)
		}
		if fd == -1 {
			fd = pl.FD
		} else if fd != pl.FD {
			return -1, 0, fmt.Errorf("%w (plane %d: %d != %d)", ErrInconsistentPlaneDescriptor, j, pl.FD, fd)
		}
	}
	return fd, span, nil
}

// MapAll maps every allocated buffer. On failure the mappings made so far
// stay in place for ReleaseAll.
func (p *Pool) MapAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entries == nil {
		return faults.Buffer("pool", ErrNotAllocated)
	}
	for i := range p.entries {
		e := &p.entries[i]
		if e.data != nil {
			continue
		}
		data, err := p.mapper.Map(e.fd, e.span)
		if err != nil {
			return faults.Buffer(fmt.Sprintf("buffer %d", i), fmt.Errorf("bufferpool: %w: %w", ErrMappingFailed, err))
		}
		e.data = data
	}

	slog.Debug("bufferpool: buffers mapped", "count", len(p.entries))
	return nil
}

// Lookup returns the mapping of the buffer with the given handle
func (p *Pool) Lookup(handle int) (Region, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if handle < 0 || handle >= len(p.entries) || p.entries[handle].data == nil {
		return Region{}, false
	}
	e := p.entries[handle]
	return Region{Data: e.data, Size: e.span}, true
}

// Buffer returns the frame buffer with the given handle, or nil
func (p *Pool) Buffer(handle int) *camera.FrameBuffer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if handle < 0 || handle >= len(p.entries) {
		return nil
	}
	return p.entries[handle].fb
}

// Len returns the pool depth
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// MappedBytes returns the total size of all live mappings
func (p *Pool) MappedBytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.entries {
		if e.data != nil {
			n += e.span
		}
	}
	return n
}

// Free unmaps any remaining mappings, then returns the buffers to the
// allocator. Some V4L2 drivers refuse to free buffers that are still mapped.
func (p *Pool) Free() {
	p.ReleaseAll()

	p.mu.RLock()
	s := p.stream
	p.mu.RUnlock()
	if s == nil {
		return
	}
	if err := p.allocator.FreeBuffers(s); err != nil {
		slog.Warn("bufferpool: failed to free buffers", "error", err)
	}
}

// ReleaseAll unmaps every buffer. Individual failures are logged and do not
// stop the remaining unmaps. Idempotent.
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := 0
	for i := range p.entries {
		e := &p.entries[i]
		if e.data == nil {
			continue
		}
		if err := p.mapper.Unmap(e.data); err != nil {
			slog.Error("bufferpool: munmap failed", "buffer", i, "error", err)
		} else {
			released++
		}
		e.data = nil
	}
	if released > 0 {
		slog.Debug("bufferpool: mappings released", "count", released)
	}
}
