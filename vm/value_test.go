package vm

import (
	"testing"
)

func TestRcValueCloneRelease(t *testing.T) {
	v := IntValue(42)
	if v.RefCount() != 1 {
		t.Errorf("Expected refcount 1, got %d", v.RefCount())
	}

	c := v.Clone()
	if v.RefCount() != 2 {
		t.Errorf("Expected refcount 2 after clone, got %d", v.RefCount())
	}
	if c.Value() != v.Value() {
		t.Error("Expected clone to share the same cell")
	}

	c.Release()
	if v.RefCount() != 1 {
		t.Errorf("Expected refcount 1 after release, got %d", v.RefCount())
	}

	v.Release()
	if v.RefCount() != 0 {
		t.Errorf("Expected refcount 0 after final release, got %d", v.RefCount())
	}
}

func TestPinnedSingletons(t *testing.T) {
	for i := 0; i < 100; i++ {
		None.Release()
		True.Release()
		False.Release()
	}
	if None.Kind() != KindNone {
		t.Error("None singleton was dropped by over-release")
	}
	if !True.Value().Bool || False.Value().Bool {
		t.Error("Boolean singletons were corrupted by over-release")
	}
}

func TestReleaseDropsNestedValues(t *testing.T) {
	inner := StringValue("element")
	tup := TupleValue([]RcValue{inner})

	keep := inner.Clone()
	if keep.RefCount() != 2 {
		t.Errorf("Expected refcount 2, got %d", keep.RefCount())
	}

	tup.Release()
	if keep.RefCount() != 1 {
		t.Errorf("Expected tuple release to drop element reference, got %d", keep.RefCount())
	}
	keep.Release()
}

func TestEqualScalars(t *testing.T) {
	tests := []struct {
		name     string
		a, b     RcValue
		expected bool
	}{
		{"int equal", IntValue(5), IntValue(5), true},
		{"int unequal", IntValue(5), IntValue(6), false},
		{"int float coerce", IntValue(5), FloatValue(5.0), true},
		{"float int coerce", FloatValue(2.5), IntValue(2), false},
		{"string equal", StringValue("a"), StringValue("a"), true},
		{"none equal", None, None.Clone(), true},
		{"kind mismatch", IntValue(1), StringValue("1"), false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.expected, got)
		}
	}
}

func TestEqualTuplesDeep(t *testing.T) {
	a := TupleValue([]RcValue{IntValue(1), StringValue("x")})
	b := TupleValue([]RcValue{IntValue(1), StringValue("x")})
	c := TupleValue([]RcValue{IntValue(1), StringValue("y")})

	if !a.Equal(b) {
		t.Error("Expected structurally equal tuples to compare equal")
	}
	if a.Equal(c) {
		t.Error("Expected differing tuples to compare unequal")
	}
}

func TestNamespaceVersionBumps(t *testing.T) {
	ns := NewNamespace()
	if ns.Version() != 0 {
		t.Errorf("Expected fresh namespace at version 0, got %d", ns.Version())
	}

	ns.Set("a", IntValue(1))
	if ns.Version() != 1 {
		t.Errorf("Expected version 1 after set, got %d", ns.Version())
	}

	ns.Set("a", IntValue(2))
	if ns.Version() != 2 {
		t.Errorf("Expected version 2 after overwrite, got %d", ns.Version())
	}

	ns.Delete("a")
	if ns.Version() != 3 {
		t.Errorf("Expected version 3 after delete, got %d", ns.Version())
	}

	// Deleting a missing name is not a write.
	ns.Delete("missing")
	if ns.Version() != 3 {
		t.Errorf("Expected version unchanged after no-op delete, got %d", ns.Version())
	}
}

func TestNamespaceSetReleasesOld(t *testing.T) {
	ns := NewNamespace()
	old := IntValue(1)
	keep := old.Clone()

	ns.Set("a", old)
	ns.Set("a", IntValue(2))

	if keep.RefCount() != 1 {
		t.Errorf("Expected old binding released on overwrite, refcount %d", keep.RefCount())
	}
	keep.Release()
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name     string
		v        RcValue
		expected bool
	}{
		{"none", None, false},
		{"zero int", IntValue(0), false},
		{"nonzero int", IntValue(-3), true},
		{"empty string", StringValue(""), false},
		{"string", StringValue("x"), true},
		{"empty tuple", TupleValue(nil), false},
		{"tuple", TupleValue([]RcValue{None}), true},
	}
	for _, tt := range tests {
		if got := tt.v.Value().Truthy(); got != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.expected, got)
		}
	}
}
