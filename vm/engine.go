package vm

import "fmt"

// ---------------------------------------------------------------------------
// Engine: the bytecode execution driver
// ---------------------------------------------------------------------------

// Engine decodes and executes instructions against frames. Calls between
// compiled functions run on an explicit frame chain linked through
// ReturnRegister, not on the Go stack; structured control flow (break,
// continue, return through finally, raise) resolves entirely via the block
// stack. The only Go-stack recursion is a builtin method calling back into
// the engine, which the recursion guard covers like any other call.
type Engine struct {
	Memory   *MemoryOps
	Classes  *ClassTable
	Pool     *FramePool
	Builtins *Namespace

	// trust gates when a global-load site uses its cached value.
	trust int

	// currentException backs OpLoadExc inside except handlers.
	currentException RcValue
}

// NewEngine creates an engine with default limits and empty tables.
func NewEngine() *Engine {
	return &Engine{
		Memory:   NewMemoryOps(DefaultMaxRecursionDepth),
		Classes:  NewClassTable(),
		Pool:     NewFramePool(),
		Builtins: NewNamespace(),
		trust:    DefaultTrustThreshold,
	}
}

// SetTrustThreshold tunes the inline-cache specialization gate.
func (e *Engine) SetTrustThreshold(n int) {
	if n > 0 {
		e.trust = n
	}
}

// UncaughtError wraps an exception value that unwound past the outermost
// frame.
type UncaughtError struct {
	Value RcValue
}

// Error implements error.
func (u *UncaughtError) Error() string {
	return "uncaught exception: " + u.Value.Value().String()
}

// clearException drops the live exception once no handler can observe it:
// at the top-level entry point and when a handler region completes
// normally. CallFunction deliberately does not clear: builtins re-enter
// through it while a handler may still be observing the exception.
func (e *Engine) clearException() {
	if !e.currentException.IsNil() {
		e.currentException.Release()
		e.currentException = RcValue{}
	}
}

// unwindState remembers a return or raise suspended while a finally/with
// handler runs.
type unwindState struct {
	reason UnwindReason
	value  RcValue
}

// ---------------------------------------------------------------------------
// Public execution API
// ---------------------------------------------------------------------------

// RunCode executes a module body against the given namespaces and returns
// its result.
func (e *Engine) RunCode(code *CodeObject, globals, builtins *Namespace) (RcValue, error) {
	if builtins != nil {
		e.Builtins = builtins
	}
	e.clearException()
	if err := e.Memory.IncrementRecursionDepth(); err != nil {
		e.Memory.DecrementRecursionDepth()
		return RcValue{}, err
	}
	frame := e.Pool.Get(code, globals, e.Builtins)
	return e.run(frame)
}

// CallFunction calls a compiled function with positional and keyword
// arguments, taking ownership of the argument handles. This is the entry
// point for hosts and for builtins re-entering compiled code.
func (e *Engine) CallFunction(fn *Function, args []RcValue, kwargs map[string]RcValue) (RcValue, error) {
	if err := e.Memory.IncrementRecursionDepth(); err != nil {
		e.Memory.DecrementRecursionDepth()
		releaseAll(args)
		return RcValue{}, err
	}
	frame := e.Pool.GetFunctionFrame(fn.Code, fn.Globals, e.Builtins, args, kwargs)
	frame.FreeVars = cloneAll(fn.FreeVars)
	return e.run(frame)
}

// ---------------------------------------------------------------------------
// Main dispatch loop
// ---------------------------------------------------------------------------

func (e *Engine) run(entry *Frame) (RcValue, error) {
	f := entry
	for {
		if f.PC >= len(f.Code.Instructions) {
			// Implicit return at the end of a body.
			next, result, done, err := e.finishFrame(f, None.Clone())
			if err != nil {
				return RcValue{}, err
			}
			if done {
				return result, nil
			}
			f = next
			continue
		}

		ins := f.Code.Instructions[f.PC]
		f.PC++
		f.LineNumber = ins.Line

		switch ins.Op {
		case OpNop:
			// Do nothing.

		case OpMove:
			f.SetRegister(ins.A, f.GetRegister(ins.B).Clone())

		case OpLoadConst:
			if ins.B >= len(f.Code.Constants) {
				panic(fmt.Sprintf("vm: constant %d out of range", ins.B))
			}
			f.SetRegister(ins.A, f.Code.Constants[ins.B].Clone())

		case OpLoadNone:
			f.SetRegister(ins.A, None)

		case OpLoadTrue:
			f.SetRegister(ins.A, True.Clone())

		case OpLoadFalse:
			f.SetRegister(ins.A, False.Clone())

		case OpLoadLocal:
			f.SetRegister(ins.A, f.GetLocal(ins.B).Clone())

		case OpStoreLocal:
			f.SetLocal(ins.A, f.GetRegister(ins.B).Clone())

		case OpLoadGlobal:
			v, err := e.loadGlobal(f, ins.B, ins.C)
			if err != nil {
				return e.fail(f, err)
			}
			f.SetRegister(ins.A, v)

		case OpStoreGlobal:
			f.Globals.Set(f.Code.Names[ins.A], f.GetRegister(ins.B).Clone())

		case OpLoadFree:
			if ins.B >= len(f.FreeVars) {
				panic(fmt.Sprintf("vm: free variable %d out of range", ins.B))
			}
			f.SetRegister(ins.A, f.FreeVars[ins.B].Clone())

		case OpStoreFree:
			if ins.A >= len(f.FreeVars) {
				panic(fmt.Sprintf("vm: free variable %d out of range", ins.A))
			}
			f.FreeVars[ins.A].Release()
			f.FreeVars[ins.A] = f.GetRegister(ins.B).Clone()

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			v, err := binaryArith(ins.Op, f.GetRegister(ins.B), f.GetRegister(ins.C))
			if err != nil {
				return e.fail(f, err)
			}
			f.SetRegister(ins.A, v)

		case OpNeg:
			v, err := negate(f.GetRegister(ins.B))
			if err != nil {
				return e.fail(f, err)
			}
			f.SetRegister(ins.A, v)

		case OpNot:
			f.SetRegister(ins.A, BoolValue(!f.GetRegister(ins.B).Value().Truthy()))

		case OpEq:
			f.SetRegister(ins.A, BoolValue(f.GetRegister(ins.B).Equal(f.GetRegister(ins.C))))

		case OpNe:
			f.SetRegister(ins.A, BoolValue(!f.GetRegister(ins.B).Equal(f.GetRegister(ins.C))))

		case OpLt, OpLe, OpGt, OpGe:
			v, err := compare(ins.Op, f.GetRegister(ins.B), f.GetRegister(ins.C))
			if err != nil {
				return e.fail(f, err)
			}
			f.SetRegister(ins.A, v)

		case OpBuildTuple:
			elems := make([]RcValue, ins.C)
			for i := 0; i < ins.C; i++ {
				elems[i] = f.GetRegister(ins.B + i).Clone()
			}
			f.SetRegister(ins.A, TupleValue(elems))

		case OpBuildMap:
			entries := make(map[string]RcValue, ins.C)
			for i := 0; i < ins.C; i++ {
				key := f.GetRegister(ins.B + 2*i)
				val := f.GetRegister(ins.B + 2*i + 1)
				if key.Kind() != KindString {
					return e.fail(f, fmt.Errorf("vm: map key must be a string, got %s (line %d)", key.Value().TypeName(), ins.Line))
				}
				if old, ok := entries[key.Value().Str]; ok {
					old.Release()
				}
				entries[key.Value().Str] = val.Clone()
			}
			f.SetRegister(ins.A, MapValue(entries))

		case OpGetAttr:
			v, err := e.getAttr(f, f.GetRegister(ins.B), f.Code.Names[ins.C])
			if err != nil {
				return e.fail(f, err)
			}
			f.SetRegister(ins.A, v)

		case OpSetAttr:
			if err := setAttr(f.GetRegister(ins.A), f.Code.Names[ins.B], f.GetRegister(ins.C)); err != nil {
				return e.fail(f, err)
			}

		case OpMakeClosure:
			cv := f.Code.Constants[ins.B]
			if cv.Kind() != KindCode {
				panic(fmt.Sprintf("vm: MAKECLOSURE constant %d is not code", ins.B))
			}
			inner := cv.Value().Code
			fn := &Function{
				Name:    inner.Name,
				Code:    inner,
				Globals: f.Globals,
			}
			for i := 0; i < ins.C; i++ {
				fn.FreeVars = append(fn.FreeVars, f.GetRegister(ins.A+1+i).Clone())
			}
			f.SetRegister(ins.A, FunctionValue(fn))

		case OpLoadMethod:
			v, err := e.loadMethod(f, ins.A, ins.B, ins.C)
			if err != nil {
				return e.fail(f, err)
			}
			f.SetRegister(ins.A, v)

		case OpCall:
			next, err := e.call(f, ins.A, ins.B, ins.C)
			if err != nil {
				return e.fail(f, err)
			}
			f = next

		case OpReturn:
			next, result, done, err := e.finishFrame(f, f.GetRegister(ins.A).Clone())
			if err != nil {
				return RcValue{}, err
			}
			if done {
				return result, nil
			}
			f = next

		case OpJump:
			f.PC = ins.A

		case OpJumpIfFalse:
			if !f.GetRegister(ins.A).Value().Truthy() {
				f.PC = ins.B
			}

		case OpJumpIfTrue:
			if f.GetRegister(ins.A).Value().Truthy() {
				f.PC = ins.B
			}

		case OpSetupLoop:
			f.PushBlock(LoopBlock, ins.A, ins.B)

		case OpSetupExcept:
			f.PushBlock(ExceptBlock, ins.A, ins.B)

		case OpSetupFinally:
			f.PushBlock(FinallyBlock, ins.A, ins.B)

		case OpSetupWith:
			f.PushBlock(WithBlock, ins.A, ins.B)

		case OpPopBlock:
			f.PopBlock()

		case OpBreak:
			b, ok := f.UnwindTo(UnwindBreak)
			if !ok {
				panic("vm: BREAK outside a loop")
			}
			f.PC = b.Handler

		case OpContinue:
			if _, ok := f.UnwindTo(UnwindContinue); !ok {
				panic("vm: CONTINUE outside a loop")
			}
			f.PC = ins.A

		case OpRaise:
			next, err := e.raise(f, f.GetRegister(ins.A).Clone())
			if err != nil {
				return RcValue{}, err
			}
			f = next

		case OpLoadExc:
			if e.currentException.IsNil() {
				f.SetRegister(ins.A, None)
			} else {
				f.SetRegister(ins.A, e.currentException.Clone())
			}

		case OpEndFinally:
			if f.pending == nil {
				// Normal completion of a handler region: the exception, if
				// any, has been dealt with.
				e.clearException()
			} else {
				p := f.pending
				f.pending = nil
				switch p.reason {
				case UnwindReturn:
					next, result, done, err := e.finishFrame(f, p.value)
					if err != nil {
						return RcValue{}, err
					}
					if done {
						return result, nil
					}
					f = next
				case UnwindRaise:
					next, err := e.raise(f, p.value)
					if err != nil {
						return RcValue{}, err
					}
					f = next
				}
			}

		default:
			panic(fmt.Sprintf("vm: unknown opcode %s", ins.Op))
		}
	}
}

// ---------------------------------------------------------------------------
// Frame transitions
// ---------------------------------------------------------------------------

// finishFrame completes a return from f with result. Pending finally/with
// blocks intercept the return first; otherwise the frame pops, the result
// lands in the caller's return register, and execution resumes there. done
// is true when f was the outermost frame.
func (e *Engine) finishFrame(f *Frame, result RcValue) (next *Frame, final RcValue, done bool, err error) {
	if b, ok := f.UnwindTo(UnwindReturn); ok {
		f.pending = &unwindState{reason: UnwindReturn, value: result}
		f.PC = b.Handler
		return f, RcValue{}, false, nil
	}

	rr := f.ReturnRegister
	e.Pool.Put(f)
	e.Memory.DecrementRecursionDepth()

	if rr == nil {
		return nil, result, true, nil
	}
	rr.Caller.SetRegister(rr.Register, result)
	return rr.Caller, RcValue{}, false, nil
}

// raise unwinds with an exception value. The nearest except block receives
// control with the exception exposed via OpLoadExc; finally/with blocks run
// first with the raise suspended. An exception that unwinds past the
// outermost frame becomes an UncaughtError.
func (e *Engine) raise(f *Frame, exc RcValue) (*Frame, error) {
	for {
		if b, ok := f.UnwindTo(UnwindRaise); ok {
			if b.Type == ExceptBlock {
				if !e.currentException.IsNil() {
					e.currentException.Release()
				}
				e.currentException = exc
			} else {
				f.pending = &unwindState{reason: UnwindRaise, value: exc}
			}
			f.PC = b.Handler
			return f, nil
		}

		rr := f.ReturnRegister
		e.Pool.Put(f)
		e.Memory.DecrementRecursionDepth()
		if rr == nil {
			return nil, &UncaughtError{Value: exc}
		}
		f = rr.Caller
	}
}

// fail aborts execution with a host-level error, releasing every live frame
// and keeping the recursion counter balanced.
func (e *Engine) fail(f *Frame, err error) (RcValue, error) {
	for f != nil {
		rr := f.ReturnRegister
		e.Pool.Put(f)
		e.Memory.DecrementRecursionDepth()
		if rr == nil {
			break
		}
		f = rr.Caller
	}
	return RcValue{}, err
}

// call dispatches R(base) with argc arguments, depositing the result in
// R(dest) of the calling frame. Compiled functions push a frame and return
// it as the new current frame; builtins and bound methods complete inline.
func (e *Engine) call(f *Frame, base, argc, dest int) (*Frame, error) {
	callee := f.GetRegister(base)

	switch callee.Kind() {
	case KindFunction:
		fn := callee.Value().Fn
		if err := e.Memory.IncrementRecursionDepth(); err != nil {
			e.Memory.DecrementRecursionDepth()
			return nil, err
		}
		args := make([]RcValue, argc)
		for i := 0; i < argc; i++ {
			args[i] = f.GetRegister(base + 1 + i).Clone()
		}
		nf := e.Pool.GetFunctionFrame(fn.Code, fn.Globals, e.Builtins, args, nil)
		nf.FreeVars = cloneAll(fn.FreeVars)
		nf.ReturnRegister = &ReturnTarget{Caller: f, Register: dest}
		return nf, nil

	case KindBoundMethod:
		bm := callee.Value().Bound
		args := make([]RcValue, argc)
		for i := 0; i < argc; i++ {
			args[i] = f.GetRegister(base + 1 + i)
		}
		result, err := bm.Method.Invoke(e, bm.Receiver, args)
		if err != nil {
			return nil, err
		}
		f.SetRegister(dest, result)
		return f, nil

	case KindClass:
		cls := callee.Value().Class
		inst := &Instance{Class: cls, Attrs: make(map[string]RcValue)}
		iv := InstanceValue(inst)
		if init := cls.ResolveMethod("init"); init != nil {
			args := make([]RcValue, argc)
			for i := 0; i < argc; i++ {
				args[i] = f.GetRegister(base + 1 + i)
			}
			r, err := init.Invoke(e, iv, args)
			if err != nil {
				iv.Release()
				return nil, err
			}
			r.Release()
		}
		f.SetRegister(dest, iv)
		return f, nil
	}

	return nil, fmt.Errorf("vm: %s is not callable (line %d)", callee.Value().TypeName(), f.LineNumber)
}

// ---------------------------------------------------------------------------
// Name and method resolution
// ---------------------------------------------------------------------------

// loadGlobal resolves a global through the site's inline cache. A trusted
// site clones the cached value without touching the namespace; anything
// else resolves globals-then-builtins and records the outcome.
func (e *Engine) loadGlobal(f *Frame, nameIdx, slot int) (RcValue, error) {
	name := f.Code.Names[nameIdx]
	version := f.Globals.Version()

	var ic *InlineCache
	if slot >= 0 && slot < len(f.Code.InlineCaches) {
		ic = &f.Code.InlineCaches[slot]
		if ic.Trusted(version, e.trust) {
			return ic.Value.Clone(), nil
		}
	}

	if v, ok := f.Globals.Get(name); ok {
		if ic != nil {
			ic.Record(v, version)
		}
		return v.Clone(), nil
	}
	if v, ok := f.Builtins.Get(name); ok {
		// Builtin hits are not cached: the cache version tracks the
		// globals namespace, and a later global shadowing the builtin
		// must be seen immediately.
		return v.Clone(), nil
	}
	return RcValue{}, fmt.Errorf("vm: name %q is not defined (line %d)", name, f.LineNumber)
}

// classOf resolves the dispatch class for a receiver: its own class for
// instances, the registered type class otherwise.
func (e *Engine) classOf(v RcValue) *Class {
	if v.Kind() == KindInstance {
		return v.Value().Inst.Class
	}
	return e.Classes.Lookup(v.Value().TypeName())
}

// loadMethod resolves receiver.name through three cache layers: the
// monomorphic per-site cache, the per-frame method cache, then the full
// class walk. The resolved method is bound to the receiver in R(base).
func (e *Engine) loadMethod(f *Frame, base, nameIdx, slot int) (RcValue, error) {
	recv := f.GetRegister(base)
	name := f.Code.Names[nameIdx]

	cls := e.classOf(recv)
	if cls == nil {
		return RcValue{}, fmt.Errorf("vm: %s has no methods (line %d)", recv.Value().TypeName(), f.LineNumber)
	}

	// A dispatch-generation change makes every frame-cache entry stale by
	// version mismatch.
	if f.CacheVersion != e.Classes.Generation() {
		f.CacheVersion = e.Classes.Generation()
	}

	var m Method
	resolved := false

	var imc *InlineMethodCache
	if slot >= 0 && slot < len(f.Code.InlineMethodCaches) {
		imc = &f.Code.InlineMethodCaches[slot]
		if imc.IsValid(cls.Name, cls.Version) {
			m = imc.Get()
			resolved = true
		}
	}

	if !resolved {
		if entry, ok := f.LookupMethodCache(cls.Name, name); ok && entry.Version == f.CacheVersion {
			m = entry.Method
		} else {
			m = cls.ResolveMethod(name)
			f.UpdateMethodCache(cls.Name, name, m)
		}
		if m != nil && imc != nil {
			imc.Update(cls.Name, m, cls.Version)
		}
	}

	if m == nil {
		return RcValue{}, fmt.Errorf("vm: %s has no method %q (line %d)", cls.Name, name, f.LineNumber)
	}
	return NewRcValue(Value{Kind: KindBoundMethod, Bound: &BoundMethod{Receiver: recv.Clone(), Method: m}}), nil
}

// getAttr reads an attribute from an instance or a mapping, recording the
// name in the frame's attribute scratch state.
func (e *Engine) getAttr(f *Frame, recv RcValue, name string) (RcValue, error) {
	f.LastLoadedAttr = name
	switch recv.Kind() {
	case KindInstance:
		if v, ok := recv.Value().Inst.Attrs[name]; ok {
			return v.Clone(), nil
		}
		return RcValue{}, fmt.Errorf("vm: %s has no attribute %q (line %d)", recv.Value().TypeName(), name, f.LineNumber)
	case KindMap:
		if v, ok := recv.Value().Map[name]; ok {
			return v.Clone(), nil
		}
		return RcValue{}, fmt.Errorf("vm: map has no key %q (line %d)", name, f.LineNumber)
	}
	return RcValue{}, fmt.Errorf("vm: %s has no attributes (line %d)", recv.Value().TypeName(), f.LineNumber)
}

// setAttr writes an attribute on an instance or a mapping.
func setAttr(recv RcValue, name string, v RcValue) error {
	switch recv.Kind() {
	case KindInstance:
		attrs := recv.Value().Inst.Attrs
		if old, ok := attrs[name]; ok {
			old.Release()
		}
		attrs[name] = v.Clone()
		return nil
	case KindMap:
		m := recv.Value().Map
		if old, ok := m[name]; ok {
			old.Release()
		}
		m[name] = v.Clone()
		return nil
	}
	return fmt.Errorf("vm: cannot set attribute on %s", recv.Value().TypeName())
}

// ---------------------------------------------------------------------------
// Arithmetic helpers
// ---------------------------------------------------------------------------

func binaryArith(op Opcode, a, b RcValue) (RcValue, error) {
	av, bv := a.Value(), b.Value()

	if av.Kind == KindInt && bv.Kind == KindInt {
		switch op {
		case OpAdd:
			return IntValue(av.Int + bv.Int), nil
		case OpSub:
			return IntValue(av.Int - bv.Int), nil
		case OpMul:
			return IntValue(av.Int * bv.Int), nil
		case OpDiv:
			if bv.Int == 0 {
				return RcValue{}, fmt.Errorf("vm: division by zero")
			}
			return IntValue(av.Int / bv.Int), nil
		case OpMod:
			if bv.Int == 0 {
				return RcValue{}, fmt.Errorf("vm: modulo by zero")
			}
			return IntValue(av.Int % bv.Int), nil
		}
	}

	if numeric(av) && numeric(bv) {
		x, y := toFloat(av), toFloat(bv)
		switch op {
		case OpAdd:
			return FloatValue(x + y), nil
		case OpSub:
			return FloatValue(x - y), nil
		case OpMul:
			return FloatValue(x * y), nil
		case OpDiv:
			if y == 0 {
				return RcValue{}, fmt.Errorf("vm: division by zero")
			}
			return FloatValue(x / y), nil
		case OpMod:
			return RcValue{}, fmt.Errorf("vm: modulo needs integer operands")
		}
	}

	if op == OpAdd && av.Kind == KindString && bv.Kind == KindString {
		return StringValue(av.Str + bv.Str), nil
	}

	return RcValue{}, fmt.Errorf("vm: unsupported operands for %s: %s and %s", op, av.TypeName(), bv.TypeName())
}

func negate(a RcValue) (RcValue, error) {
	av := a.Value()
	switch av.Kind {
	case KindInt:
		return IntValue(-av.Int), nil
	case KindFloat:
		return FloatValue(-av.Float), nil
	}
	return RcValue{}, fmt.Errorf("vm: cannot negate %s", av.TypeName())
}

func compare(op Opcode, a, b RcValue) (RcValue, error) {
	av, bv := a.Value(), b.Value()

	var less, equal bool
	switch {
	case numeric(av) && numeric(bv):
		x, y := toFloat(av), toFloat(bv)
		less, equal = x < y, x == y
	case av.Kind == KindString && bv.Kind == KindString:
		less, equal = av.Str < bv.Str, av.Str == bv.Str
	default:
		return RcValue{}, fmt.Errorf("vm: cannot order %s and %s", av.TypeName(), bv.TypeName())
	}

	switch op {
	case OpLt:
		return BoolValue(less), nil
	case OpLe:
		return BoolValue(less || equal), nil
	case OpGt:
		return BoolValue(!less && !equal), nil
	case OpGe:
		return BoolValue(!less), nil
	}
	return RcValue{}, fmt.Errorf("vm: bad comparison opcode %s", op)
}

func numeric(v *Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func toFloat(v *Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func cloneAll(vals []RcValue) []RcValue {
	if len(vals) == 0 {
		return nil
	}
	out := make([]RcValue, len(vals))
	for i, v := range vals {
		out[i] = v.Clone()
	}
	return out
}

func releaseAll(vals []RcValue) {
	for _, v := range vals {
		v.Release()
	}
}
