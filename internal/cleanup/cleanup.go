// Package cleanup implements the per-instance cleanup stack: the consumer
// owns the DOM node, popup handle, iframe element, and prerender handle,
// released in LIFO order on reaching closed.
package cleanup

import "sync"

// Stack is a LIFO list of teardown functions. It is safe for concurrent use.
// Run executes every registered function exactly once, most-recently-added
// first, and is idempotent — calling Run twice only runs the stack once.
type Stack struct {
	mu   sync.Mutex
	fns  []func()
	done bool
}

// New returns an empty cleanup stack.
func New() *Stack {
	return &Stack{}
}

// Push registers fn to run on the next Run call, ahead of anything already
// registered. Pushing after Run has already fired runs fn immediately —
// the instance is already torn down, so there's nothing left to wait for.
func (s *Stack) Push(fn func()) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		fn()
		return
	}
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

// Run executes every registered cleanup function in reverse insertion
// order. Safe to call more than once; only the first call has effect.
func (s *Stack) Run() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
