package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: the runtime value surface the engine manipulates
// ---------------------------------------------------------------------------

// Kind identifies the payload carried by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTuple
	KindMap
	KindCode
	KindFunction
	KindBoundMethod
	KindClass
	KindInstance
)

// Value is the runtime representation the engine works against. Arithmetic
// coercion and the wider object model live with the value collaborator; the
// core only needs construction, kind checks, and attribute access.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Tuple []RcValue
	Map   map[string]RcValue
	Code  *CodeObject
	Fn    *Function
	Bound *BoundMethod
	Class *Class
	Inst  *Instance
}

// Function is a callable unit: a code object closed over its defining
// globals and any captured free variables.
type Function struct {
	Name     string
	Code     *CodeObject
	Globals  *Namespace
	FreeVars []RcValue
}

// BoundMethod pairs a receiver with a resolved method.
type BoundMethod struct {
	Receiver RcValue
	Method   Method
}

// Instance is a user-level object: a class pointer plus named attributes.
type Instance struct {
	Class *Class
	Attrs map[string]RcValue
}

// TypeName returns the runtime type name used as an inline-cache tag.
func (v *Value) TypeName() string {
	switch v.Kind {
	case KindNone:
		return "None"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindTuple:
		return "Tuple"
	case KindMap:
		return "Map"
	case KindCode:
		return "Code"
	case KindFunction:
		return "Function"
	case KindBoundMethod:
		return "BoundMethod"
	case KindClass:
		return "Class"
	case KindInstance:
		if v.Inst != nil && v.Inst.Class != nil {
			return v.Inst.Class.Name
		}
		return "Instance"
	}
	return "Unknown"
}

// Truthy reports whether the value counts as true in a conditional.
func (v *Value) Truthy() bool {
	switch v.Kind {
	case KindNone:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	case KindTuple:
		return len(v.Tuple) > 0
	case KindMap:
		return len(v.Map) > 0
	}
	return true
}

// String renders a debugging representation.
func (v *Value) String() string {
	switch v.Kind {
	case KindNone:
		return "none"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindTuple:
		parts := make([]string, len(v.Tuple))
		for i, el := range v.Tuple {
			parts[i] = el.Value().String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindMap:
		return fmt.Sprintf("map[%d]", len(v.Map))
	case KindCode:
		return fmt.Sprintf("<code %s>", v.Code.Name)
	case KindFunction:
		return fmt.Sprintf("<function %s>", v.Fn.Name)
	case KindBoundMethod:
		return fmt.Sprintf("<bound %s>", v.Bound.Method.MethodName())
	case KindClass:
		return fmt.Sprintf("<class %s>", v.Class.Name)
	case KindInstance:
		return fmt.Sprintf("<%s instance>", v.TypeName())
	}
	return "<unknown>"
}

// ---------------------------------------------------------------------------
// RcValue: reference-counted handle
// ---------------------------------------------------------------------------

// rcCell is the shared cell behind every clone of a handle. Counts are plain
// integers: the runtime is single-threaded by contract, so no atomics.
type rcCell struct {
	val    Value
	refs   int32
	pinned bool
}

// RcValue is a reference-counted handle around a Value. Cloning is O(1) and
// bumps the shared count; releasing the last clone drops the payload. The
// runtime never deep-copies a Value implicitly.
//
// Reference counting cannot reclaim cycles (two closures each capturing the
// other keep each other alive until process exit). The design accepts that
// leak; there is no backup cycle collector.
type RcValue struct {
	cell *rcCell
}

// Immortal handles for the singleton values. Their cells are pinned so
// Release never drops them no matter how the counts are balanced.
var (
	None  = RcValue{cell: &rcCell{val: Value{Kind: KindNone}, refs: 1, pinned: true}}
	True  = RcValue{cell: &rcCell{val: Value{Kind: KindBool, Bool: true}, refs: 1, pinned: true}}
	False = RcValue{cell: &rcCell{val: Value{Kind: KindBool, Bool: false}, refs: 1, pinned: true}}
)

// NewRcValue wraps a Value in a fresh handle with a count of one.
func NewRcValue(v Value) RcValue {
	return RcValue{cell: &rcCell{val: v, refs: 1}}
}

// Convenience constructors for the scalar kinds.

func IntValue(n int64) RcValue      { return NewRcValue(Value{Kind: KindInt, Int: n}) }
func FloatValue(f float64) RcValue  { return NewRcValue(Value{Kind: KindFloat, Float: f}) }
func StringValue(s string) RcValue  { return NewRcValue(Value{Kind: KindString, Str: s}) }
func BoolValue(b bool) RcValue {
	if b {
		return True.Clone()
	}
	return False.Clone()
}

// TupleValue builds a sequence value taking ownership of the elements.
func TupleValue(elems []RcValue) RcValue {
	return NewRcValue(Value{Kind: KindTuple, Tuple: elems})
}

// MapValue builds a mapping value taking ownership of the entries.
func MapValue(entries map[string]RcValue) RcValue {
	if entries == nil {
		entries = make(map[string]RcValue)
	}
	return NewRcValue(Value{Kind: KindMap, Map: entries})
}

// CodeValue wraps a code object for embedding in a constant pool.
func CodeValue(code *CodeObject) RcValue {
	return NewRcValue(Value{Kind: KindCode, Code: code})
}

// FunctionValue wraps a function.
func FunctionValue(fn *Function) RcValue {
	return NewRcValue(Value{Kind: KindFunction, Fn: fn})
}

// ClassValue wraps a class.
func ClassValue(c *Class) RcValue {
	return NewRcValue(Value{Kind: KindClass, Class: c})
}

// InstanceValue wraps an instance.
func InstanceValue(inst *Instance) RcValue {
	return NewRcValue(Value{Kind: KindInstance, Inst: inst})
}

// IsNil reports whether the handle is the zero handle (no cell at all).
// Distinct from holding the none value.
func (r RcValue) IsNil() bool {
	return r.cell == nil
}

// Value returns the underlying value. The handle must not be the zero handle.
func (r RcValue) Value() *Value {
	return &r.cell.val
}

// Kind returns the payload kind, or KindNone for the zero handle.
func (r RcValue) Kind() Kind {
	if r.cell == nil {
		return KindNone
	}
	return r.cell.val.Kind
}

// RefCount returns the current shared count. Diagnostic use only.
func (r RcValue) RefCount() int32 {
	if r.cell == nil {
		return 0
	}
	return r.cell.refs
}

// Clone returns a new handle sharing the same cell, bumping the count.
func (r RcValue) Clone() RcValue {
	if r.cell == nil {
		return r
	}
	r.cell.refs++
	return r
}

// Release drops one reference. When the last reference goes, the payload is
// cleared so anything it held (tuple elements, map entries, captured
// variables) is released in turn. Releasing the zero handle or a pinned
// singleton is a no-op.
func (r RcValue) Release() {
	c := r.cell
	if c == nil || c.pinned {
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}
	for _, el := range c.val.Tuple {
		el.Release()
	}
	for _, el := range c.val.Map {
		el.Release()
	}
	if c.val.Fn != nil {
		for _, fv := range c.val.Fn.FreeVars {
			fv.Release()
		}
	}
	if c.val.Bound != nil {
		c.val.Bound.Receiver.Release()
	}
	if c.val.Inst != nil {
		for _, av := range c.val.Inst.Attrs {
			av.Release()
		}
	}
	c.val = Value{}
}

// Equal compares two handles by value for the scalar kinds and by identity
// for everything else.
func (r RcValue) Equal(other RcValue) bool {
	if r.cell == other.cell {
		return true
	}
	if r.cell == nil || other.cell == nil {
		return false
	}
	a, b := &r.cell.val, &other.cell.val
	if a.Kind != b.Kind {
		// Int/Float cross comparison is the one coercion the engine needs.
		if a.Kind == KindInt && b.Kind == KindFloat {
			return float64(a.Int) == b.Float
		}
		if a.Kind == KindFloat && b.Kind == KindInt {
			return a.Float == float64(b.Int)
		}
		return false
	}
	switch a.Kind {
	case KindNone:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindTuple:
		if len(a.Tuple) != len(b.Tuple) {
			return false
		}
		for i := range a.Tuple {
			if !a.Tuple[i].Equal(b.Tuple[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Namespace: shared globals/builtins map
// ---------------------------------------------------------------------------

// Namespace is a shared mutable name table. Every frame in a call tree holds
// the same *Namespace, so a global write in one frame is visible to siblings
// and callees without copying. The version counter bumps on every write and
// backs inline-cache invalidation for global loads.
//
// Single-threaded by contract: a multi-threaded host would need to replace
// this with a lock- or concurrent-map-backed table.
type Namespace struct {
	vars    map[string]RcValue
	version uint64
}

// NewNamespace creates an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{vars: make(map[string]RcValue)}
}

// NamespaceFrom wraps an existing map in a namespace, taking ownership of
// the handles it contains.
func NamespaceFrom(vars map[string]RcValue) *Namespace {
	if vars == nil {
		vars = make(map[string]RcValue)
	}
	return &Namespace{vars: vars}
}

// Get returns the value bound to name, without cloning.
func (n *Namespace) Get(name string) (RcValue, bool) {
	v, ok := n.vars[name]
	return v, ok
}

// Set binds name to value, releasing any previous binding, and bumps the
// namespace version.
func (n *Namespace) Set(name string, v RcValue) {
	if old, ok := n.vars[name]; ok {
		old.Release()
	}
	n.vars[name] = v
	n.version++
}

// Delete removes a binding if present.
func (n *Namespace) Delete(name string) {
	if old, ok := n.vars[name]; ok {
		old.Release()
		delete(n.vars, name)
		n.version++
	}
}

// Version returns the current write generation.
func (n *Namespace) Version() uint64 {
	return n.version
}

// Len returns the number of bindings.
func (n *Namespace) Len() int {
	return len(n.vars)
}
