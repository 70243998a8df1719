package vm

import (
	"testing"
)

func TestMethodCacheLookupAndUpdate(t *testing.T) {
	f := testFrame(t, 2)
	m := &BuiltinMethod{Name: "area"}

	if _, ok := f.LookupMethodCache("Circle", "area"); ok {
		t.Error("Expected empty cache to miss")
	}

	f.CacheVersion = 5
	f.UpdateMethodCache("Circle", "area", m)

	entry, ok := f.LookupMethodCache("Circle", "area")
	if !ok {
		t.Fatal("Expected cache hit after update")
	}
	if entry.Method != m {
		t.Error("Expected cached method back")
	}
	if entry.Version != 5 {
		t.Errorf("Expected entry stamped with version 5, got %d", entry.Version)
	}
}

func TestMethodCacheNegativeEntry(t *testing.T) {
	f := testFrame(t, 2)

	f.UpdateMethodCache("Circle", "missing", nil)

	entry, ok := f.LookupMethodCache("Circle", "missing")
	if !ok {
		t.Fatal("Expected negative entry to be cached")
	}
	if entry.Method != nil {
		t.Error("Expected nil method in negative entry")
	}
}

func TestMethodCacheStalenessByVersion(t *testing.T) {
	f := testFrame(t, 2)
	m := &BuiltinMethod{Name: "area"}

	f.CacheVersion = 1
	f.UpdateMethodCache("Circle", "area", m)

	// The generation moved on; the entry stays visible but stale.
	f.CacheVersion = 2
	entry, ok := f.LookupMethodCache("Circle", "area")
	if !ok {
		t.Fatal("Expected stale entry to remain visible")
	}
	if entry.Version == f.CacheVersion {
		t.Error("Expected entry version to lag the frame version")
	}
}

func TestMethodCacheKeyedByClassAndName(t *testing.T) {
	f := testFrame(t, 2)
	a := &BuiltinMethod{Name: "area"}
	b := &BuiltinMethod{Name: "area"}

	f.UpdateMethodCache("Circle", "area", a)
	f.UpdateMethodCache("Square", "area", b)

	if f.MethodCacheLen() != 2 {
		t.Errorf("Expected 2 entries, got %d", f.MethodCacheLen())
	}
	entry, _ := f.LookupMethodCache("Square", "area")
	if entry.Method != b {
		t.Error("Expected Square entry to be independent of Circle")
	}
}

func TestClassVersionBumpOnDefine(t *testing.T) {
	c := NewClass("Point", nil)
	if c.Version != 0 {
		t.Errorf("Expected fresh class at version 0, got %d", c.Version)
	}

	c.DefineMethod("x", &BuiltinMethod{Name: "x"})
	if c.Version != 1 {
		t.Errorf("Expected version 1 after define, got %d", c.Version)
	}

	c.DefineMethod("x", &BuiltinMethod{Name: "x"})
	if c.Version != 2 {
		t.Errorf("Expected redefinition to bump version, got %d", c.Version)
	}
}

func TestResolveMethodWalksSuperChain(t *testing.T) {
	base := NewClass("Base", nil)
	derived := NewClass("Derived", base)
	m := &BuiltinMethod{Name: "shared"}
	base.DefineMethod("shared", m)

	if got := derived.ResolveMethod("shared"); got != m {
		t.Error("Expected inherited method via super chain")
	}
	if got := derived.ResolveMethod("absent"); got != nil {
		t.Error("Expected nil for missing method")
	}
}

func TestDefineMethodBumpsTableGeneration(t *testing.T) {
	tbl := NewClassTable()
	c := NewClass("Point", nil)
	tbl.Register(c)
	gen := tbl.Generation()

	c.DefineMethod("m", &BuiltinMethod{Name: "m"})
	if tbl.Generation() != gen+1 {
		t.Errorf("Expected registered-class definition to bump the generation, got %d", tbl.Generation())
	}

	// An unregistered class only tracks its own version.
	loose := NewClass("Loose", nil)
	loose.DefineMethod("m", &BuiltinMethod{Name: "m"})
	if tbl.Generation() != gen+1 {
		t.Errorf("Expected unregistered class to leave the generation alone, got %d", tbl.Generation())
	}
}

func TestClassTableGeneration(t *testing.T) {
	tbl := NewClassTable()
	if tbl.Generation() != 0 {
		t.Errorf("Expected generation 0, got %d", tbl.Generation())
	}

	tbl.Register(NewClass("Point", nil))
	if tbl.Generation() != 1 {
		t.Errorf("Expected generation 1 after register, got %d", tbl.Generation())
	}

	tbl.BumpGeneration()
	if tbl.Generation() != 2 {
		t.Errorf("Expected generation 2 after bump, got %d", tbl.Generation())
	}

	if tbl.Lookup("Point") == nil {
		t.Error("Expected registered class to resolve")
	}
	if tbl.Lookup("Missing") != nil {
		t.Error("Expected nil for unregistered class")
	}
}
