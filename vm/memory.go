package vm

import "errors"

// ---------------------------------------------------------------------------
// MemoryOps: recursion-depth accounting
// ---------------------------------------------------------------------------

// ErrMaxRecursionDepth is returned when a call would push past the
// configured recursion ceiling. It is recoverable: the driver aborts the
// current call chain and reports it, rather than letting the host stack
// overflow.
var ErrMaxRecursionDepth = errors.New("maximum recursion depth exceeded")

// DefaultMaxRecursionDepth is the ceiling used when none is configured.
const DefaultMaxRecursionDepth = 1000

// MemoryOps guards the host call stack with a simple depth counter. One
// instance per engine; it outlives any single frame.
type MemoryOps struct {
	maxRecursionDepth     int
	currentRecursionDepth int
}

// NewMemoryOps creates a guard with the given ceiling, or the default when
// max is not positive.
func NewMemoryOps(max int) *MemoryOps {
	if max <= 0 {
		max = DefaultMaxRecursionDepth
	}
	return &MemoryOps{maxRecursionDepth: max}
}

// IncrementRecursionDepth counts one level of call depth. Past the ceiling
// it returns ErrMaxRecursionDepth, but the increment has still happened:
// the call site must still pair it with a decrement on unwind so the
// counter stays balanced.
func (m *MemoryOps) IncrementRecursionDepth() error {
	m.currentRecursionDepth++
	if m.currentRecursionDepth > m.maxRecursionDepth {
		return ErrMaxRecursionDepth
	}
	return nil
}

// DecrementRecursionDepth counts one level of unwind, saturating at zero.
func (m *MemoryOps) DecrementRecursionDepth() {
	if m.currentRecursionDepth > 0 {
		m.currentRecursionDepth--
	}
}

// SetMaxRecursionDepth reconfigures the ceiling.
func (m *MemoryOps) SetMaxRecursionDepth(n int) {
	m.maxRecursionDepth = n
}

// CurrentRecursionDepth returns the live depth.
func (m *MemoryOps) CurrentRecursionDepth() int {
	return m.currentRecursionDepth
}

// MaxRecursionDepth returns the configured ceiling.
func (m *MemoryOps) MaxRecursionDepth() int {
	return m.maxRecursionDepth
}
