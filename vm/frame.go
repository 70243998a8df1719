package vm

import "fmt"

// ---------------------------------------------------------------------------
// Frame: per-call activation record
// ---------------------------------------------------------------------------

// DefaultRegisters is the register-file size used when a code object
// declares zero registers but still carries instructions. Executing into an
// empty register file would fault on the first write, so the frame falls
// back to this instead.
const DefaultRegisters = 64

// ReturnTarget says where a frame deposits its result: a destination
// register in the calling frame. Absent (nil caller) only for the outermost
// frame.
type ReturnTarget struct {
	Caller   *Frame
	Register int
}

// Frame is the mutable activation record for one call. The engine owns it
// on its call stack; retired frames go back to a pool and are reused via
// Reinit.
type Frame struct {
	Code       *CodeObject
	PC         int
	LineNumber int

	// Registers is the frame's working storage, indexed 0..N by
	// compiler-assigned register numbers. Locals is the flat local-variable
	// array indexed by VarNames slot number; localsMap resolves names to
	// slots for diagnostics only — the hot path always uses the integer.
	Registers []RcValue
	Locals    []RcValue
	localsMap map[string]int

	// Globals and Builtins are shared by every frame in the call tree.
	Globals  *Namespace
	Builtins *Namespace

	// FreeVars holds captured values for a closure, positioned by the
	// FreeVars table of the defining code object.
	FreeVars []RcValue

	BlockStack []Block

	// CacheVersion stamps per-frame method cache entries; bumping it makes
	// every existing entry stale by version mismatch.
	CacheVersion uint64
	methodCache  map[methodCacheKey]*MethodCacheEntry

	ReturnRegister *ReturnTarget

	// pending holds a return or raise suspended while a finally/with
	// handler runs; OpEndFinally resumes it.
	pending *unwindState

	// Scratch state for property-setter re-entry and module-class
	// attribute resolution. Frame-local, never shared.
	IsPropertySetter bool
	VarsToUpdate     []string
	LastLoadedAttr   string
}

// registerCount resolves the register-file size for a code object.
func registerCount(code *CodeObject) int {
	if code.Registers > 0 {
		return code.Registers
	}
	if len(code.Instructions) > 0 {
		return DefaultRegisters
	}
	return 0
}

// initStorage sizes and zero-fills registers and locals and rebuilds the
// locals map. Shared by every construction mode so their invariants cannot
// drift.
func (f *Frame) initStorage(code *CodeObject) {
	nregs := registerCount(code)
	if cap(f.Registers) >= nregs {
		// Reuse the existing backing array; grow only when required.
		f.Registers = f.Registers[:nregs]
	} else {
		f.Registers = make([]RcValue, nregs)
	}
	for i := range f.Registers {
		f.Registers[i] = None
	}

	nlocals := len(code.VarNames)
	if cap(f.Locals) >= nlocals {
		f.Locals = f.Locals[:nlocals]
	} else {
		f.Locals = make([]RcValue, nlocals)
	}
	for i := range f.Locals {
		f.Locals[i] = None
	}

	f.localsMap = make(map[string]int, nlocals)
	for i, name := range code.VarNames {
		f.localsMap[name] = i
	}
}

// NewFrame constructs a plain frame: module bodies and simple calls with no
// parameter binding. Globals and builtins are wrapped into shared
// namespaces.
func NewFrame(code *CodeObject, globals, builtins map[string]RcValue) *Frame {
	return NewFrameWithNamespaces(code, NamespaceFrom(globals), NamespaceFrom(builtins))
}

// NewFrameWithNamespaces constructs a frame around namespaces the caller
// already holds in shared form. This is the hot-path constructor: no
// wrap/unwrap allocation.
func NewFrameWithNamespaces(code *CodeObject, globals, builtins *Namespace) *Frame {
	f := &Frame{
		Code:     code,
		Globals:  globals,
		Builtins: builtins,
	}
	f.initStorage(code)
	return f
}

// NewFunctionFrame constructs a frame for a function call, binding
// positional and keyword arguments into locals by walking the declared
// parameters in order:
//
//   - a VarArgs parameter collects all remaining unconsumed positionals
//     into a tuple;
//   - a VarKwargs parameter collects all unconsumed keywords into a map;
//   - any other parameter takes its keyword argument if present under its
//     name, else consumes the next unused positional, else stays at the
//     none default. Keyword lookup wins over positional consumption.
//
// The frame takes ownership of the argument handles it binds; unconsumed
// keyword handles move into the varkwargs map when one is declared.
func NewFunctionFrame(code *CodeObject, globals, builtins *Namespace, args []RcValue, kwargs map[string]RcValue) *Frame {
	f := NewFrameWithNamespaces(code, globals, builtins)
	f.bindArguments(args, kwargs)
	return f
}

func (f *Frame) bindArguments(args []RcValue, kwargs map[string]RcValue) {
	nextPos := 0
	kwUsed := make(map[string]bool, len(kwargs))

	for _, p := range f.Code.Params {
		slot, ok := f.localsMap[p.Name]
		if !ok {
			continue
		}
		switch p.Kind {
		case VarArgsParam:
			rest := make([]RcValue, 0, len(args)-nextPos)
			for ; nextPos < len(args); nextPos++ {
				rest = append(rest, args[nextPos])
			}
			f.setLocalOwned(slot, TupleValue(rest))
		case VarKwargsParam:
			leftover := make(map[string]RcValue)
			for name, v := range kwargs {
				if !kwUsed[name] {
					leftover[name] = v
					kwUsed[name] = true
				}
			}
			f.setLocalOwned(slot, MapValue(leftover))
		default:
			if v, ok := kwargs[p.Name]; ok && !kwUsed[p.Name] {
				kwUsed[p.Name] = true
				f.setLocalOwned(slot, v)
			} else if nextPos < len(args) {
				f.setLocalOwned(slot, args[nextPos])
				nextPos++
			}
			// Otherwise the slot keeps its zero-initialized none.
		}
	}

	// Binding owns every handle it was given: anything no parameter
	// consumed is released here rather than leaked.
	for ; nextPos < len(args); nextPos++ {
		args[nextPos].Release()
	}
	for name, v := range kwargs {
		if !kwUsed[name] {
			v.Release()
		}
	}
}

// Reinit repurposes a retired frame for a new call, reusing its storage.
// Registers and locals grow when the new code needs more but never shrink
// below the new requirement; everything else is reset to the state a fresh
// construction would produce.
func (f *Frame) Reinit(code *CodeObject, globals, builtins *Namespace) {
	f.releaseStorage()

	f.Code = code
	f.PC = 0
	f.LineNumber = 0
	f.Globals = globals
	f.Builtins = builtins
	f.FreeVars = nil
	f.BlockStack = f.BlockStack[:0]
	f.CacheVersion = 0
	f.methodCache = nil
	f.ReturnRegister = nil
	f.pending = nil
	f.IsPropertySetter = false
	f.VarsToUpdate = nil
	f.LastLoadedAttr = ""

	f.initStorage(code)
}

// releaseStorage drops every handle the frame still holds.
func (f *Frame) releaseStorage() {
	for i := range f.Registers {
		f.Registers[i].Release()
	}
	for i := range f.Locals {
		f.Locals[i].Release()
	}
	for i := range f.FreeVars {
		f.FreeVars[i].Release()
	}
}

// ---------------------------------------------------------------------------
// Register and local access
// ---------------------------------------------------------------------------

// GetRegister returns the handle in register i without cloning. Register
// indices are compiler-generated, never user input: out of range is a bug
// in the compiler or engine and panics.
func (f *Frame) GetRegister(i int) RcValue {
	if i < 0 || i >= len(f.Registers) {
		panic(fmt.Sprintf("vm: register %d out of range (file %d)", i, len(f.Registers)))
	}
	return f.Registers[i]
}

// GetRegisterMut returns a pointer to the register slot for in-place
// update. Same index contract as GetRegister.
func (f *Frame) GetRegisterMut(i int) *RcValue {
	if i < 0 || i >= len(f.Registers) {
		panic(fmt.Sprintf("vm: register %d out of range (file %d)", i, len(f.Registers)))
	}
	return &f.Registers[i]
}

// SetRegister stores v into register i, taking ownership of v and releasing
// the previous occupant.
func (f *Frame) SetRegister(i int, v RcValue) {
	if i < 0 || i >= len(f.Registers) {
		panic(fmt.Sprintf("vm: register %d out of range (file %d)", i, len(f.Registers)))
	}
	f.Registers[i].Release()
	f.Registers[i] = v
}

// GetLocal returns the handle in local slot i without cloning.
func (f *Frame) GetLocal(i int) RcValue {
	if i < 0 || i >= len(f.Locals) {
		panic(fmt.Sprintf("vm: local %d out of range (%d declared)", i, len(f.Locals)))
	}
	return f.Locals[i]
}

// SetLocal stores v into local slot i, taking ownership of v.
func (f *Frame) SetLocal(i int, v RcValue) {
	if i < 0 || i >= len(f.Locals) {
		panic(fmt.Sprintf("vm: local %d out of range (%d declared)", i, len(f.Locals)))
	}
	f.Locals[i].Release()
	f.Locals[i] = v
}

func (f *Frame) setLocalOwned(i int, v RcValue) {
	f.Locals[i].Release()
	f.Locals[i] = v
}

// GetLocalIndex resolves a local name to its slot for diagnostics. The hot
// path never goes through here.
func (f *Frame) GetLocalIndex(name string) (int, bool) {
	i, ok := f.localsMap[name]
	return i, ok
}
