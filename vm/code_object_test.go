package vm

import (
	"testing"
)

func TestAddNameDedup(t *testing.T) {
	co := NewCodeObject("test.mc", "main", 1)

	first := co.AddName("x")
	second := co.AddName("y")
	again := co.AddName("x")

	if first != 0 || second != 1 {
		t.Errorf("Expected indices 0 and 1, got %d and %d", first, second)
	}
	if again != first {
		t.Errorf("Expected repeated name to return index %d, got %d", first, again)
	}
	if len(co.Names) != 2 {
		t.Errorf("Expected 2 names, got %d", len(co.Names))
	}
}

func TestAddVarNameSlotStability(t *testing.T) {
	co := NewCodeObject("test.mc", "main", 1)

	a := co.AddVarName("a")
	b := co.AddVarName("b")
	for i := 0; i < 10; i++ {
		co.AddVarName("a")
		co.AddVarName("b")
	}

	if a != 0 || b != 1 {
		t.Errorf("Expected slots 0 and 1, got %d and %d", a, b)
	}
	if len(co.VarNames) != 2 {
		t.Errorf("Expected 2 locals, got %d", len(co.VarNames))
	}
}

func TestAddConstantNoDedup(t *testing.T) {
	co := NewCodeObject("test.mc", "main", 1)

	i := co.AddConstant(IntValue(5))
	j := co.AddConstant(IntValue(5))

	if i == j {
		t.Error("Expected constants to not be deduplicated")
	}
	if len(co.Constants) != 2 {
		t.Errorf("Expected 2 constants, got %d", len(co.Constants))
	}
}

func TestAddInstructionReturnsIndex(t *testing.T) {
	co := NewCodeObject("test.mc", "main", 1)

	first := co.AddInstruction(OpLoadConst, 0, 0, 0, 1)
	second := co.AddInstruction(OpReturn, 0, 0, 0, 2)

	if first != 0 || second != 1 {
		t.Errorf("Expected instruction indices 0 and 1, got %d and %d", first, second)
	}
}

func TestAddCacheSlots(t *testing.T) {
	co := NewCodeObject("test.mc", "main", 1)

	s0 := co.AddInlineCache()
	s1 := co.AddInlineCache()
	m0 := co.AddInlineMethodCache()

	if s0 != 0 || s1 != 1 || m0 != 0 {
		t.Errorf("Expected slots 0, 1, 0, got %d, %d, %d", s0, s1, m0)
	}
	if co.InlineCaches[1].Counter != 0 {
		t.Error("Expected fresh cache slots to start cold")
	}
}

func TestStructurallyEquals(t *testing.T) {
	a := NewCodeObject("a.mc", "f", 1)
	a.AddInstruction(OpReturn, 0, 0, 0, 1)

	b := NewCodeObject("b.mc", "f", 99)
	b.AddInstruction(OpLoadNone, 0, 0, 0, 5)

	c := NewCodeObject("c.mc", "g", 1)
	c.AddInstruction(OpReturn, 0, 0, 0, 1)

	if !a.StructurallyEquals(b) {
		t.Error("Expected same name and instruction count to be equal")
	}
	if a.StructurallyEquals(c) {
		t.Error("Expected different names to be unequal")
	}

	var nilCo *CodeObject
	if a.StructurallyEquals(nilCo) {
		t.Error("Expected nil comparison to be unequal")
	}
	if !nilCo.StructurallyEquals(nil) {
		t.Error("Expected nil-nil comparison to be equal")
	}
}
