package conc

import (
	"context"
	"sync"
)

// Mutex guards a value of type T, requiring callers to go through Lock's
// scoped Guard rather than reaching into the value directly - the Go
// analogue of the embedded controller's guarded-borrow mutex. Guard.Release
// must be called on every exit path; Lock's caller is expected to defer it
// immediately.
type Mutex[T any] struct {
	mu  sync.Mutex
	val T
}

// NewMutex wraps an initial value.
func NewMutex[T any](initial T) *Mutex[T] {
	return &Mutex[T]{val: initial}
}

// Guard is a scoped, exclusive borrow of a Mutex's value.
type Guard[T any] struct {
	m *Mutex[T]
}

// Lock acquires the mutex, blocking until ctx is done or it is free.
// Cooperative acquisition never partially mutates state before the lock is
// held.
func (m *Mutex[T]) Lock(ctx context.Context) (*Guard[T], error) {
	done := make(chan struct{})
	go func() { m.mu.Lock(); close(done) }()
	select {
	case <-done:
		return &Guard[T]{m: m}, nil
	case <-ctx.Done():
		go func() { <-done; m.mu.Unlock() }()
		return nil, ctx.Err()
	}
}

// LockNow acquires the mutex, blocking until it is free. Used on the many
// internal paths that hold a state mutex only across a handful of local
// statements; the exceptions are cfu's per-component mutex and typec's
// firmware-update mutex, which are held across the device or controller
// call they serialize.
func (m *Mutex[T]) LockNow() *Guard[T] {
	m.mu.Lock()
	return &Guard[T]{m: m}
}

// TryLock acquires the mutex only if it is immediately free.
func (m *Mutex[T]) TryLock() (*Guard[T], bool) {
	if m.mu.TryLock() {
		return &Guard[T]{m: m}, true
	}
	return nil, false
}

// Get reads the guarded value.
func (g *Guard[T]) Get() T { return g.m.val }

// Set replaces the guarded value.
func (g *Guard[T]) Set(v T) { g.m.val = v }

// Release unlocks the mutex. Must be called exactly once, on every exit
// path of the critical section.
func (g *Guard[T]) Release() { g.m.mu.Unlock() }
