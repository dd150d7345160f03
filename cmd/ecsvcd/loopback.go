package main

import (
	"context"
	"sync"
)

// loopbackMedium is a transport.Medium with no real wire behind it: it
// exists so this binary can exercise the full Host -> transport -> relay
// -> transport -> Host round trip described in §2's data flow without a
// real UART/eSPI link. ReadContext is never driven by real hardware here;
// the debug console calls the relay aggregator directly and feeds its
// result onto the transport's TX queue, which this medium's Write then
// makes visible to the console.
type loopbackMedium struct {
	mu   sync.Mutex
	last []byte
	sig  chan struct{}
}

func newLoopbackMedium() *loopbackMedium {
	return &loopbackMedium{sig: make(chan struct{}, 1)}
}

func (m *loopbackMedium) Write(buf []byte) (int, error) {
	m.mu.Lock()
	m.last = append([]byte(nil), buf...)
	m.mu.Unlock()
	select {
	case m.sig <- struct{}{}:
	default:
	}
	return len(buf), nil
}

func (m *loopbackMedium) ReadContext(ctx context.Context, buf []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// lastWritten returns the most recent packet handed to Write, if any.
func (m *loopbackMedium) lastWritten() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, false
	}
	return append([]byte(nil), m.last...), true
}
