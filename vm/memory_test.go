package vm

import (
	"errors"
	"testing"
)

func TestRecursionGuardLimit(t *testing.T) {
	m := NewMemoryOps(3)

	for i := 0; i < 3; i++ {
		if err := m.IncrementRecursionDepth(); err != nil {
			t.Fatalf("Unexpected error at depth %d: %v", i, err)
		}
	}

	err := m.IncrementRecursionDepth()
	if !errors.Is(err, ErrMaxRecursionDepth) {
		t.Fatalf("Expected ErrMaxRecursionDepth, got %v", err)
	}
	// The failed increment still counted.
	if m.CurrentRecursionDepth() != 4 {
		t.Errorf("Expected depth 4 after failed increment, got %d", m.CurrentRecursionDepth())
	}

	// The caller decrements regardless of the error, restoring balance.
	m.DecrementRecursionDepth()
	if m.CurrentRecursionDepth() != 3 {
		t.Errorf("Expected depth 3, got %d", m.CurrentRecursionDepth())
	}
}

func TestRecursionGuardDecrementSaturates(t *testing.T) {
	m := NewMemoryOps(10)

	m.DecrementRecursionDepth()
	m.DecrementRecursionDepth()
	if m.CurrentRecursionDepth() != 0 {
		t.Errorf("Expected depth to saturate at 0, got %d", m.CurrentRecursionDepth())
	}
}

func TestRecursionGuardDefaultLimit(t *testing.T) {
	m := NewMemoryOps(0)
	if m.MaxRecursionDepth() != DefaultMaxRecursionDepth {
		t.Errorf("Expected default limit %d, got %d", DefaultMaxRecursionDepth, m.MaxRecursionDepth())
	}

	m.SetMaxRecursionDepth(50)
	if m.MaxRecursionDepth() != 50 {
		t.Errorf("Expected limit 50, got %d", m.MaxRecursionDepth())
	}
}

func TestRecursionGuardBalancedUsage(t *testing.T) {
	m := NewMemoryOps(100)

	for i := 0; i < 1000; i++ {
		if err := m.IncrementRecursionDepth(); err != nil {
			t.Fatalf("Unexpected error on iteration %d: %v", i, err)
		}
		m.DecrementRecursionDepth()
	}
	if m.CurrentRecursionDepth() != 0 {
		t.Errorf("Expected balanced depth 0, got %d", m.CurrentRecursionDepth())
	}
}
