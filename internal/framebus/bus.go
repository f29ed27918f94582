// Package framebus fans emitted frames out to in-process subscribers.
//
// The bus never blocks the capture path. Each subscriber chooses what
// happens when it falls behind:
//
//   - DropNew: frames are sent to the subscriber's own channel; a full
//     channel drops the incoming frame.
//   - DropOld: the subscriber always sees the most recent frame; an unread
//     frame is replaced by the incoming one.
//
// Bus implements emitter.Sink.
package framebus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
)

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
	ErrReceiverClosed     = errors.New("framebus: receiver is closed")
)

// DropPolicy defines how the bus handles frames when a subscriber cannot
// keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

func (p DropPolicy) String() string {
	switch p {
	case DropNew:
		return "drop-new"
	case DropOld:
		return "drop-old"
	default:
		return "unknown"
	}
}

// Delivery is one frame with its camera info
type Delivery struct {
	Frame emitter.Frame
	Info  calibration.CameraInfo
}

// SubscriberStats tracks frame distribution to one subscriber
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id      string
	policy  DropPolicy
	ch      chan<- Delivery
	latest  *Receiver
	sent    uint64
	dropped uint64
}

// Bus distributes frames to subscribers
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   uint64
	closed      bool
}

// New returns an empty bus
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch with the DropNew policy. The bus never closes ch.
func (b *Bus) Subscribe(id string, ch chan<- Delivery) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber{id: id, policy: DropNew, ch: ch}

	slog.Debug("framebus: subscriber added", "id", id, "policy", DropNew.String())
	return nil
}

// SubscribeLatest registers a DropOld subscriber and returns its receiver
func (b *Bus) SubscribeLatest(id string) (*Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}
	r := &Receiver{ch: make(chan Delivery, 1)}
	b.subscribers[id] = &subscriber{id: id, policy: DropOld, latest: r}

	slog.Debug("framebus: subscriber added", "id", id, "policy", DropOld.String())
	return r, nil
}

// Publish implements emitter.Sink. It never blocks.
func (b *Bus) Publish(f emitter.Frame, info calibration.CameraInfo) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	atomic.AddUint64(&b.published, 1)

	d := Delivery{Frame: f, Info: info}
	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- d:
				atomic.AddUint64(&s.sent, 1)
			default:
				atomic.AddUint64(&s.dropped, 1)
			}
		case DropOld:
			if s.latest.replace(d) {
				atomic.AddUint64(&s.dropped, 1)
			}
			atomic.AddUint64(&s.sent, 1)
		}
	}
	return nil
}

// Unsubscribe removes a subscriber. A DropOld receiver is closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.close()
	}
	delete(b.subscribers, id)

	slog.Debug("framebus: subscriber removed", "id", id)
	return nil
}

// Stats returns the statistics of one subscriber
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Policy:  s.policy,
		Sent:    atomic.LoadUint64(&s.sent),
		Dropped: atomic.LoadUint64(&s.dropped),
	}, nil
}

// Published returns the number of frames published
func (b *Bus) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Subscribers returns the number of subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the bus and closes every DropOld receiver. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.close()
		}
	}
	b.subscribers = nil
}

// Receiver holds the latest frame of a DropOld subscriber
type Receiver struct {
	// ch holds at most one frame; the bus is its only sender
	ch chan Delivery
}

// replace stores d, discarding an unread frame. It reports whether a frame
// was discarded. Called with the bus read lock held, so close cannot run
// concurrently.
func (r *Receiver) replace(d Delivery) (discarded bool) {
	select {
	case r.ch <- d:
		return false
	default:
	}
	select {
	case <-r.ch:
		discarded = true
	default:
	}
	select {
	case r.ch <- d:
	default:
		// a concurrent publisher filled the slot
		discarded = true
	}
	return discarded
}

func (r *Receiver) close() { close(r.ch) }

// C returns the channel carrying the latest frame. It is closed when the
// subscriber is removed.
func (r *Receiver) C() <-chan Delivery { return r.ch }

// Receive blocks until a frame is available, the receiver is closed or ctx
// is done
func (r *Receiver) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-r.ch:
		if !ok {
			return Delivery{}, ErrReceiverClosed
		}
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// TryReceive returns the latest unread frame without blocking
func (r *Receiver) TryReceive() (Delivery, bool) {
	select {
	case d, ok := <-r.ch:
		return d, ok
	default:
		return Delivery{}, false
	}
}
