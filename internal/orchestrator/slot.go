package orchestrator

import "sync/atomic"

// WorkSlot is the mutual-exclusion token for exclusive tasks. At most one
// holder exists at any time.
type WorkSlot struct {
	running atomic.Bool
}

// TryAcquire moves the slot from idle to running. It returns false if the
// slot is already held.
func (s *WorkSlot) TryAcquire() bool {
	return s.running.CompareAndSwap(false, true)
}

// Release returns the slot to idle
func (s *WorkSlot) Release() {
	s.running.Store(false)
}

// Running reports whether the slot is held
func (s *WorkSlot) Running() bool {
	return s.running.Load()
}
