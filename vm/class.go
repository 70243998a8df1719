package vm

// ---------------------------------------------------------------------------
// Classes and method dispatch tables
// ---------------------------------------------------------------------------

// Method is anything dispatchable on a receiver: a compiled function or a
// host-provided builtin.
type Method interface {
	MethodName() string
	Invoke(e *Engine, receiver RcValue, args []RcValue) (RcValue, error)
}

// Class is a named method table with a version counter. Both method-cache
// layers invalidate against Version, so any (re)definition makes every
// cached resolution stale with one integer bump.
type Class struct {
	Name    string
	Super   *Class
	Methods map[string]Method
	Version uint64

	// table is the registry this class lives in, set by Register. Method
	// mutation on a registered class must also advance the table's dispatch
	// generation so per-frame caches notice.
	table *ClassTable
}

// NewClass creates an empty class.
func NewClass(name string, super *Class) *Class {
	return &Class{Name: name, Super: super, Methods: make(map[string]Method)}
}

// DefineMethod installs or replaces a method, bumping the class version and,
// for a registered class, the table's dispatch generation.
func (c *Class) DefineMethod(name string, m Method) {
	c.Methods[name] = m
	c.Version++
	if c.table != nil {
		c.table.BumpGeneration()
	}
}

// ResolveMethod walks the class chain for a method. Nil means not found;
// callers may cache the negative outcome.
func (c *Class) ResolveMethod(name string) Method {
	for cls := c; cls != nil; cls = cls.Super {
		if m, ok := cls.Methods[name]; ok {
			return m
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ClassTable
// ---------------------------------------------------------------------------

// ClassTable interns classes by name and tracks a global dispatch
// generation: any class mutation bumps it, letting frames notice that
// their per-frame method caches went stale with a single comparison.
type ClassTable struct {
	classes    map[string]*Class
	generation uint64
}

// NewClassTable creates an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Class)}
}

// Register adds a class to the table.
func (t *ClassTable) Register(c *Class) {
	t.classes[c.Name] = c
	c.table = t
	t.generation++
}

// Lookup returns the class by name, or nil.
func (t *ClassTable) Lookup(name string) *Class {
	return t.classes[name]
}

// Generation returns the current dispatch generation.
func (t *ClassTable) Generation() uint64 {
	return t.generation
}

// BumpGeneration marks every frame-level method cache stale. Called when a
// class is mutated after registration.
func (t *ClassTable) BumpGeneration() {
	t.generation++
}

// Len returns the number of registered classes.
func (t *ClassTable) Len() int {
	return len(t.classes)
}

// ---------------------------------------------------------------------------
// Method implementations
// ---------------------------------------------------------------------------

// MethodName implements Method for compiled functions.
func (fn *Function) MethodName() string {
	return fn.Name
}

// Invoke runs a compiled function as a method. The receiver is prepended
// to the positional arguments as the implicit first parameter.
func (fn *Function) Invoke(e *Engine, receiver RcValue, args []RcValue) (RcValue, error) {
	all := make([]RcValue, 0, len(args)+1)
	all = append(all, receiver.Clone())
	for _, a := range args {
		all = append(all, a.Clone())
	}
	return e.CallFunction(fn, all, nil)
}

// BuiltinMethod is a host-implemented method.
type BuiltinMethod struct {
	Name string
	Fn   func(e *Engine, receiver RcValue, args []RcValue) (RcValue, error)
}

// MethodName implements Method.
func (b *BuiltinMethod) MethodName() string {
	return b.Name
}

// Invoke implements Method.
func (b *BuiltinMethod) Invoke(e *Engine, receiver RcValue, args []RcValue) (RcValue, error) {
	return b.Fn(e, receiver, args)
}
