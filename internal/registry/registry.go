// Package registry implements the process-lifetime, append-only intrusive
// registration list used by every CORE service to track its statically
// allocated records (fuel gauges, PSUs, CFU components, controller ports).
//
// A List never removes nodes: once pushed, a record lives for the rest of
// the program's life, mirroring the static-allocation discipline the
// embedded controller this package was modeled on relies on. Unlike a
// map-keyed registry (see the HAL device registry this package's push/lookup
// split was grounded on), push is O(1) and requires no key - the node
// itself remembers whether it has been inserted.
package registry

import "sync"

// Node is an intrusive node embedded in a registered record. It is
// constructed invalid (zero value) and becomes valid exactly once, on the
// first successful List.Push - every later Push of the same record fails
// with ErrNodeAlreadyInList. Once valid, the identity of the owning record
// and its position in the list never change.
type Node struct {
	mu    sync.Mutex
	valid bool
	owner any
	next  *Node
}

// NodeContainer is implemented by any record type that embeds a Node and
// wants to be pushed onto a List.
type NodeContainer interface {
	Node() *Node
}

// Error is the single error variant a registration list can report.
type Error string

func (e Error) Error() string { return string(e) }

// ErrNodeAlreadyInList is returned by Push when the record's embedded node
// has already been inserted (into this list or any other).
const ErrNodeAlreadyInList Error = "registry: node already in list"

// List is a singly linked, head-only intrusive list. The zero value is an
// empty, ready-to-use list.
type List struct {
	mu   sync.Mutex
	head *Node
}

// Push inserts record at the head of the list under a critical section.
// It fails idempotently if record's node is already valid - in another
// list or this one.
func Push[T NodeContainer](l *List, record T) error {
	n := record.Node()

	n.mu.Lock()
	if n.valid {
		n.mu.Unlock()
		return ErrNodeAlreadyInList
	}
	n.owner = record
	n.valid = true
	n.mu.Unlock()

	l.mu.Lock()
	n.next = l.head
	l.head = n
	l.mu.Unlock()
	return nil
}

// Data returns the type-erased owner stored in n, or nil if n has never
// been successfully pushed.
func (n *Node) Data() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.valid {
		return nil
	}
	return n.owner
}

// Iter returns the nodes currently in the list, head first (i.e. most
// recently pushed first). The returned slice is a snapshot: later pushes
// are not reflected in it.
func (l *List) Iter() []*Node {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Node
	for n := l.head; n != nil; n = n.next {
		out = append(out, n)
	}
	return out
}

// IterOnly returns the registered records of type T, skipping any node
// whose data does not downcast to T.
func IterOnly[T any](l *List) []T {
	var out []T
	for _, n := range l.Iter() {
		if v, ok := n.Data().(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// FindOnly returns the first registered record of type T for which match
// returns true.
func FindOnly[T any](l *List, match func(T) bool) (T, bool) {
	for _, n := range l.Iter() {
		if v, ok := n.Data().(T); ok && match(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
