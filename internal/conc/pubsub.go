package conc

import "sync"

// Lagged is returned by a PubSub subscriber's Receive when it fell behind
// and n messages were overwritten before it could read them.
type Lagged int

// PubSub is a single-publisher, multi-subscriber broadcast channel with a
// bounded per-subscriber buffer. A slow subscriber does not block the
// publisher or other subscribers: once its buffer is full, the oldest
// buffered message is overwritten and its next Receive reports Lagged(n)
// instead of replaying the dropped messages. This is the buffered variant
// the port-level PD-alert queue (MAX_BUFFERED_PD_ALERTS) is built from.
type PubSub[T any] struct {
	mu    sync.Mutex
	slots int
	subs  []*pubsubSub[T]
}

type pubsubSub[T any] struct {
	mu     sync.Mutex
	buf    []T
	lagged int
}

// NewPubSub constructs a PubSub whose subscribers each buffer up to slots
// messages.
func NewPubSub[T any](slots int) *PubSub[T] {
	if slots < 1 {
		slots = 1
	}
	return &PubSub[T]{slots: slots}
}

// PubSubSubscriber is a single subscriber's receive-only handle on a
// PubSub.
type PubSubSubscriber[T any] struct {
	ps  *PubSub[T]
	sub *pubsubSub[T]
}

// Subscribe registers a new subscriber.
func (p *PubSub[T]) Subscribe() *PubSubSubscriber[T] {
	s := &pubsubSub[T]{}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()
	return &PubSubSubscriber[T]{ps: p, sub: s}
}

// Publish fans v out to every current subscriber, overwriting each
// subscriber's oldest buffered message if its buffer is full.
func (p *PubSub[T]) Publish(v T) {
	p.mu.Lock()
	subs := append([]*pubsubSub[T](nil), p.subs...)
	p.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if len(s.buf) >= p.slots {
			s.buf = s.buf[1:]
			s.lagged++
		}
		s.buf = append(s.buf, v)
		s.mu.Unlock()
	}
}

// TryReceive drains the oldest buffered message for this subscriber
// without blocking. It returns ok=false with no lag if nothing is
// buffered; lag is non-zero exactly once, on the receive immediately
// following an overwrite.
func (s *PubSubSubscriber[T]) TryReceive() (v T, lag Lagged, ok bool) {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()

	lag = Lagged(s.sub.lagged)
	s.sub.lagged = 0

	if len(s.sub.buf) == 0 {
		var zero T
		return zero, lag, false
	}
	v = s.sub.buf[0]
	s.sub.buf = s.sub.buf[1:]
	return v, lag, true
}
