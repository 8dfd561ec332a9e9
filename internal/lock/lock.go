// Package lock provides the two scoped-guard primitives the multiplexers
// (pkg/receiver, pkg/transmitter) build their concurrency model on top of
// (spec.md §5): a critical section standing in for "all interrupts
// disabled", and a remove-lock implementing deferred destruction while
// iterating the receiver/transmitter list. Both are RAII-equivalent: the
// guard's effect is undone on every exit path via defer, never by a
// separately-called "release" the caller might forget.
package lock

import "sync"

// CriticalSection is a scoped mutual-exclusion guard standing in for the
// embedded target's "all interrupts disabled" critical section (spec.md
// §5, §9). On a hosted Go binary there is no interrupt controller to
// suspend; a mutex gives the same mutual-exclusion guarantee the spec
// requires (exclusive mutation of the intrusive list, a state machine's
// timer field, or the remove-lock counters) without pretending to model
// real hardware interrupt masking.
type CriticalSection struct {
	mu sync.Mutex
}

// Enter acquires the section and returns the matching release function.
// Callers are expected to `defer cs.Enter()()`.
func (cs *CriticalSection) Enter() func() {
	cs.mu.Lock()
	return cs.mu.Unlock
}

// RemoveLock implements the deferred-destruction pattern of spec.md §5:
// nodes that reach a terminal state while the list is being iterated are
// not removed immediately (that would invalidate iterators held by
// reentrant code paths); removal happens only when the outermost guard
// exits. Acquire/Release nest correctly under reentrant calls because
// depth is a plain counter, not a boolean.
type RemoveLock struct {
	mu    sync.Mutex
	depth int
}

// Acquire increments the guard depth.
func (r *RemoveLock) Acquire() {
	r.mu.Lock()
	r.depth++
	r.mu.Unlock()
}

// Release decrements the guard depth and reports whether this call was the
// outermost one (depth reached zero), meaning the caller should now drain
// any nodes that reached their terminal state during this entry.
func (r *RemoveLock) Release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth--
	return r.depth == 0
}
