package vm

import (
	"testing"
)

func TestFramePoolReuse(t *testing.T) {
	pool := NewFramePool()
	co := NewCodeObject("test.mc", "f", 1)
	co.Registers = 10
	ns := NewNamespace()
	bi := NewNamespace()

	f1 := pool.Get(co, ns, bi)
	pool.Put(f1)
	if pool.Size() != 1 {
		t.Errorf("Expected 1 pooled frame, got %d", pool.Size())
	}

	f2 := pool.Get(co, ns, bi)
	if f2 != f1 {
		t.Error("Expected pooled frame to be reused")
	}
	if pool.Size() != 0 {
		t.Errorf("Expected empty pool after get, got %d", pool.Size())
	}
}

func TestFramePoolSizeClasses(t *testing.T) {
	tests := []struct {
		nregs    int
		expected int
	}{
		{1, 8},
		{8, 8},
		{9, 16},
		{17, 32},
		{64, 64},
		{65, 128},
	}
	for _, tt := range tests {
		if got := sizeClass(tt.nregs); got != tt.expected {
			t.Errorf("sizeClass(%d): expected %d, got %d", tt.nregs, tt.expected, got)
		}
	}
}

func TestFramePoolPutReleasesHandles(t *testing.T) {
	pool := NewFramePool()
	co := NewCodeObject("test.mc", "f", 1)
	co.Registers = 4
	co.AddVarName("x")

	f := pool.Get(co, NewNamespace(), NewNamespace())
	v := IntValue(5)
	keep := v.Clone()
	f.SetRegister(0, v)

	pool.Put(f)
	if keep.RefCount() != 1 {
		t.Errorf("Expected register handle released on put, refcount %d", keep.RefCount())
	}
	if f.Code != nil || f.Globals != nil {
		t.Error("Expected retired frame to drop its code and namespace references")
	}
	keep.Release()
}

func TestFramePoolClassCap(t *testing.T) {
	pool := NewFramePool()
	co := NewCodeObject("test.mc", "f", 1)
	co.Registers = 4
	ns := NewNamespace()
	bi := NewNamespace()

	frames := make([]*Frame, maxPooledPerClass+10)
	for i := range frames {
		frames[i] = NewFrameWithNamespaces(co, ns, bi)
	}
	for _, f := range frames {
		pool.Put(f)
	}

	if pool.Size() != maxPooledPerClass {
		t.Errorf("Expected pool capped at %d, got %d", maxPooledPerClass, pool.Size())
	}
}

func TestFramePoolGetFunctionFrameBinds(t *testing.T) {
	pool := NewFramePool()
	co := NewCodeObject("test.mc", "f", 1)
	co.Registers = 4
	co.Params = []Param{{Name: "a"}}
	co.AddVarName("a")

	f := pool.GetFunctionFrame(co, NewNamespace(), NewNamespace(),
		[]RcValue{IntValue(9)}, nil)
	if f.GetLocal(0).Value().Int != 9 {
		t.Errorf("Expected a=9, got %v", f.GetLocal(0).Value())
	}
}

func BenchmarkFramePool(b *testing.B) {
	co := NewCodeObject("bench.mc", "f", 1)
	co.Registers = 16
	ns := NewNamespace()
	bi := NewNamespace()

	b.Run("pooled", func(b *testing.B) {
		pool := NewFramePool()
		for i := 0; i < b.N; i++ {
			f := pool.Get(co, ns, bi)
			pool.Put(f)
		}
	})

	b.Run("unpooled", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			NewFrameWithNamespaces(co, ns, bi)
		}
	})
}
