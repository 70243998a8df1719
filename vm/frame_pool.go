package vm

// ---------------------------------------------------------------------------
// FramePool: arena of retired frames
// ---------------------------------------------------------------------------

// FramePool keeps retired frames for reuse, bucketed by register-file size
// class so a hot call path usually finds a frame whose storage already
// fits. The win is allocation avoidance on recursive and hot call paths,
// not just memory reuse.
type FramePool struct {
	free map[int][]*Frame
}

// maxPooledPerClass bounds how many retired frames one size class keeps.
const maxPooledPerClass = 32

// NewFramePool creates an empty pool.
func NewFramePool() *FramePool {
	return &FramePool{free: make(map[int][]*Frame)}
}

// sizeClass rounds a register count up to a power of two so frames with
// similar needs share a bucket.
func sizeClass(nregs int) int {
	class := 8
	for class < nregs {
		class <<= 1
	}
	return class
}

// Get returns a frame for the code object, reinitializing a pooled frame
// when one is available and constructing fresh otherwise.
func (p *FramePool) Get(code *CodeObject, globals, builtins *Namespace) *Frame {
	class := sizeClass(registerCount(code))
	bucket := p.free[class]
	if n := len(bucket); n > 0 {
		f := bucket[n-1]
		p.free[class] = bucket[:n-1]
		f.Reinit(code, globals, builtins)
		return f
	}
	return NewFrameWithNamespaces(code, globals, builtins)
}

// GetFunctionFrame is Get plus argument binding.
func (p *FramePool) GetFunctionFrame(code *CodeObject, globals, builtins *Namespace, args []RcValue, kwargs map[string]RcValue) *Frame {
	f := p.Get(code, globals, builtins)
	f.bindArguments(args, kwargs)
	return f
}

// Put retires a frame. The frame's handles are released immediately so
// pooling never extends value lifetimes; full buckets drop the frame for
// the collector instead.
func (p *FramePool) Put(f *Frame) {
	f.releaseStorage()
	for i := range f.Registers {
		f.Registers[i] = None
	}
	for i := range f.Locals {
		f.Locals[i] = None
	}
	f.FreeVars = nil
	f.Code = nil
	f.Globals = nil
	f.Builtins = nil
	f.ReturnRegister = nil
	if f.pending != nil {
		f.pending.value.Release()
		f.pending = nil
	}
	f.methodCache = nil
	f.BlockStack = f.BlockStack[:0]

	class := sizeClass(cap(f.Registers))
	if len(p.free[class]) < maxPooledPerClass {
		p.free[class] = append(p.free[class], f)
	}
}

// Size returns the number of pooled frames across all classes. Diagnostic
// use only.
func (p *FramePool) Size() int {
	total := 0
	for _, bucket := range p.free {
		total += len(bucket)
	}
	return total
}
