package camera

import (
	"errors"
	"fmt"
)

// RequestStatus is the lifecycle status reported by the device
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestComplete
	RequestCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestComplete:
		return "complete"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ReuseFlag selects what Request.Reuse keeps
type ReuseFlag int

const (
	ReuseDefault ReuseFlag = 0
	// ReuseBuffers keeps the stream to buffer bindings
	ReuseBuffers ReuseFlag = 1 << 0
)

var (
	ErrNilBuffer       = errors.New("camera: nil buffer")
	ErrNilStream       = errors.New("camera: nil stream")
	ErrDuplicateBuffer = errors.New("camera: stream already has a buffer in this request")
)

// Request binds buffers and control values to one capture cycle.
//
// A Request is reused across cycles; it is mutated only by its owner between
// completion and the next QueueRequest, and by the backend while queued.
type Request struct {
	cookie   uint64
	status   RequestStatus
	buffers  map[Stream]*FrameBuffer
	controls ControlList
	metadata ControlList
}

// NewRequest returns an empty request tagged with cookie. Backends call it
// from Camera.CreateRequest.
func NewRequest(cookie uint64) *Request {
	return &Request{
		cookie:   cookie,
		buffers:  make(map[Stream]*FrameBuffer),
		controls: make(ControlList),
		metadata: make(ControlList),
	}
}

// Cookie returns the opaque tag given at creation
func (r *Request) Cookie() uint64 { return r.cookie }

// Status returns the completion status
func (r *Request) Status() RequestStatus { return r.status }

// Controls returns the controls applied when the request is processed
func (r *Request) Controls() ControlList { return r.controls }

// Metadata returns controls reported by the device on completion
func (r *Request) Metadata() ControlList { return r.metadata }

// AddBuffer binds b as the destination for stream s
func (r *Request) AddBuffer(s Stream, b *FrameBuffer) error {
	if s == nil {
		return ErrNilStream
	}
	if b == nil {
		return ErrNilBuffer
	}
	if _, ok := r.buffers[s]; ok {
		return ErrDuplicateBuffer
	}
	r.buffers[s] = b
	return nil
}

// FindBuffer returns the buffer bound to s, or nil
func (r *Request) FindBuffer(s Stream) *FrameBuffer { return r.buffers[s] }

// NumBuffers returns the number of bound buffers
func (r *Request) NumBuffers() int { return len(r.buffers) }

// Complete records the final status. Backends only.
func (r *Request) Complete(status RequestStatus) { r.status = status }

// Reuse resets the request for another cycle. Controls and metadata are
// cleared; buffer bindings survive only with ReuseBuffers.
func (r *Request) Reuse(flags ReuseFlag) {
	r.status = RequestPending
	r.controls.Clear()
	r.metadata.Clear()
	if flags&ReuseBuffers == 0 {
		r.buffers = make(map[Stream]*FrameBuffer)
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(%d:%s:%d buffers)", r.cookie, r.status, len(r.buffers))
}
