package conc

import "sync"

// OnceLock holds a value that is initialized exactly once, lazily, the
// first time GetOrInit is called - the Go analogue of the embedded
// controller's static OnceLock<T> used to construct process-lifetime
// service contexts.
type OnceLock[T any] struct {
	once sync.Once
	val  T
}

// GetOrInit returns the stored value, calling init() to produce and store
// it on the first call. Concurrent callers block until init() completes
// and then all observe the same value.
func (o *OnceLock[T]) GetOrInit(init func() T) T {
	o.once.Do(func() { o.val = init() })
	return o.val
}
