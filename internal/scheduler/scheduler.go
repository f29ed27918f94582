// Package scheduler drives the capture request lifecycle.
//
// One request is created per pool buffer and lives for the whole session:
//
//	Created → Queued → {Completed | Cancelled} → Queued → ...
//
// Completions arrive on device goroutines and are serialised by a single
// mutex. Every completed or cancelled request is reset, re-armed with the
// committed control set and queued again, so the number of requests in
// flight always equals the pool depth.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

var (
	ErrRequestCreationFailed = errors.New("request creation failed")
	ErrAlreadyBuilt          = errors.New("requests already built")
	ErrNotBuilt              = errors.New("requests not built")
	ErrEmitPanic             = errors.New("frame emission panicked")
)

// State is the lifecycle state of one request
type State int

const (
	StateCreated State = iota
	StateQueued
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Device is the part of camera.Camera the scheduler drives
type Device interface {
	CreateRequest(cookie uint64) (*camera.Request, error)
	QueueRequest(r *camera.Request) error
	SetRequestCompletedHandler(fn func(*camera.Request))
}

// Buffers gives access to pool buffers by handle
type Buffers interface {
	Len() int
	Buffer(handle int) *camera.FrameBuffer
}

// ControlSource writes the committed control set into a request
type ControlSource interface {
	ApplyTo(dst camera.ControlList)
}

// Emitter turns a completed request into a published frame
type Emitter interface {
	Emit(r *camera.Request, handle int) error
}

// Config wires a Scheduler
type Config struct {
	Device   Device
	Stream   camera.Stream
	Buffers  Buffers
	Controls ControlSource
	Emitter  Emitter
}

// Stats is a snapshot of scheduler counters
type Stats struct {
	Requests        int
	InFlight        int
	Completed       uint64
	Cancelled       uint64
	EmitErrors      uint64
	RequeueFailures uint64
	Panics          uint64
}

// Scheduler owns the fixed set of capture requests
type Scheduler struct {
	dev      Device
	stream   camera.Stream
	buffers  Buffers
	controls ControlSource
	emitter  Emitter

	// mu is the completion lock: request state and frame extraction
	mu       sync.Mutex
	requests []*camera.Request
	states   []State
	stopped  bool

	completed       uint64
	cancelled       uint64
	emitErrors      uint64
	requeueFailures uint64
	panics          uint64
}

// New returns a scheduler with fail-fast validation of its collaborators
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Device == nil:
		return nil, fmt.Errorf("scheduler: device is required")
	case cfg.Stream == nil:
		return nil, fmt.Errorf("scheduler: stream is required")
	case cfg.Buffers == nil:
		return nil, fmt.Errorf("scheduler: buffers are required")
	case cfg.Controls == nil:
		return nil, fmt.Errorf("scheduler: control source is required")
	case cfg.Emitter == nil:
		return nil, fmt.Errorf("scheduler: emitter is required")
	}
	return &Scheduler{
		dev:      cfg.Device,
		stream:   cfg.Stream,
		buffers:  cfg.Buffers,
		controls: cfg.Controls,
		emitter:  cfg.Emitter,
	}, nil
}

// Build creates one request per pool buffer, binds the buffer, and arms it
// with the committed controls. The request cookie is the buffer handle.
func (s *Scheduler) Build() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requests != nil {
		return ErrAlreadyBuilt
	}

	n := s.buffers.Len()
	requests := make([]*camera.Request, 0, n)
	for h := 0; h < n; h++ {
		r, err := s.dev.CreateRequest(uint64(h))
		if err != nil {
			return faults.Acquisition(fmt.Sprintf("request %d", h),
				fmt.Errorf("scheduler: %w: %w", ErrRequestCreationFailed, err))
		}
		if err := r.AddBuffer(s.stream, s.buffers.Buffer(h)); err != nil {
			return faults.Buffer(fmt.Sprintf("request %d", h), fmt.Errorf("scheduler: bind buffer: %w", err))
		}
		s.controls.ApplyTo(r.Controls())
		requests = append(requests, r)
	}

	s.requests = requests
	s.states = make([]State, n)

	slog.Info("scheduler: requests built", "count", n)
	return nil
}

// Attach registers the completion handler on the device
func (s *Scheduler) Attach() {
	s.dev.SetRequestCompletedHandler(s.OnComplete)
}

// QueueAll hands every request to the device. The device must be started.
func (s *Scheduler) QueueAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requests == nil {
		return ErrNotBuilt
	}
	for h, r := range s.requests {
		if err := s.dev.QueueRequest(r); err != nil {
			return faults.Acquisition(fmt.Sprintf("request %d", h), fmt.Errorf("scheduler: queue: %w", err))
		}
		s.states[h] = StateQueued
	}

	slog.Info("scheduler: requests queued", "count", len(s.requests))
	return nil
}

// OnComplete is the device completion handler.
//
// Under the completion lock it:
//  1. Emits the frame of a completed request (errors stay with the frame)
//  2. Logs a cancelled request
//  3. Resets the request keeping its buffer, re-arms the committed controls
//  4. Queues it again
//
// No panic escapes to the device goroutine.
func (s *Scheduler) OnComplete(r *camera.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			atomic.AddUint64(&s.panics, 1)
			slog.Error("scheduler: panic in completion handler", "panic", p)
		}
	}()

	h := int(r.Cookie())
	if h < 0 || h >= len(s.requests) || s.requests[h] != r {
		slog.Error("scheduler: completion for unknown request", "request", r.String())
		return
	}
	if s.stopped {
		slog.Debug("scheduler: completion after stop ignored", "request", r.String())
		return
	}

	switch r.Status() {
	case camera.RequestComplete:
		s.states[h] = StateCompleted
		atomic.AddUint64(&s.completed, 1)
		if err := s.emit(r, h); err != nil {
			atomic.AddUint64(&s.emitErrors, 1)
			slog.Warn("scheduler: frame not emitted",
				"request", h,
				"error", err,
			)
		}
	case camera.RequestCancelled:
		s.states[h] = StateCancelled
		atomic.AddUint64(&s.cancelled, 1)
		slog.Error("scheduler: request cancelled", "request", r.String())
	default:
		slog.Warn("scheduler: completion with unexpected status", "request", r.String())
	}

	r.Reuse(camera.ReuseBuffers)
	s.controls.ApplyTo(r.Controls())

	if err := s.dev.QueueRequest(r); err != nil {
		atomic.AddUint64(&s.requeueFailures, 1)
		slog.Error("scheduler: failed to requeue request",
			"request", h,
			"error", err,
		)
		return
	}
	s.states[h] = StateQueued
}

func (s *Scheduler) emit(r *camera.Request, h int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			atomic.AddUint64(&s.panics, 1)
			err = faults.RuntimeFrame(fmt.Sprintf("request %d", h), fmt.Errorf("%w: %v", ErrEmitPanic, p))
		}
	}()
	return s.emitter.Emit(r, h)
}

// Shutdown disconnects the completion handler and then, holding the
// completion lock, runs stop (normally the device stop). Completions that
// race with shutdown are ignored afterwards.
func (s *Scheduler) Shutdown(stop func() error) error {
	s.dev.SetRequestCompletedHandler(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if stop == nil {
		return nil
	}
	return stop()
}

// State returns the lifecycle state of the request with the given handle
func (s *Scheduler) State(handle int) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle < 0 || handle >= len(s.states) {
		return StateCreated
	}
	return s.states[handle]
}

// Request returns the request with the given handle, or nil
func (s *Scheduler) Request(handle int) *camera.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle < 0 || handle >= len(s.requests) {
		return nil
	}
	return s.requests[handle]
}

// Len returns the number of requests
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	inFlight := 0
	for _, st := range s.states {
		if st == StateQueued {
			inFlight++
		}
	}
	n := len(s.requests)
	s.mu.Unlock()

	return Stats{
		Requests:        n,
		InFlight:        inFlight,
		Completed:       atomic.LoadUint64(&s.completed),
		Cancelled:       atomic.LoadUint64(&s.cancelled),
		EmitErrors:      atomic.LoadUint64(&s.emitErrors),
		RequeueFailures: atomic.LoadUint64(&s.requeueFailures),
		Panics:          atomic.LoadUint64(&s.panics),
	}
}
