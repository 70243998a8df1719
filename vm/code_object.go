package vm

// ---------------------------------------------------------------------------
// CodeObject: immutable compiled unit
// ---------------------------------------------------------------------------

// Instruction is a single decoded instruction: an opcode, up to three
// operands, and the source line it was compiled from.
type Instruction struct {
	Op   Opcode
	A    int
	B    int
	C    int
	Line int
}

// ParamKind distinguishes how a parameter consumes call arguments.
type ParamKind uint8

const (
	PositionalParam ParamKind = iota // bound by keyword or next positional
	VarArgsParam                     // collects remaining positionals into a tuple
	VarKwargsParam                   // collects remaining keywords into a map
)

// Param is one declared parameter of a function body.
type Param struct {
	Name string
	Kind ParamKind
}

// CodeObject is the compiled representation of one function or module body.
// The compiler builds it once; after compilation it is immutable and shared
// by reference across every frame instantiated from it. The inline cache
// slots are the one exception: they are mutated by the engine at runtime.
type CodeObject struct {
	Filename  string
	Name      string
	FirstLine int

	Instructions []Instruction

	// Index-addressed tables. The VarNames index is the local slot number.
	Constants []RcValue
	Names     []string
	VarNames  []string
	FreeVars  []string
	CellVars  []string

	// Declared register-file size. May be zero for trivial bodies; frame
	// construction falls back to a default-sized file in that case.
	Registers int

	// Static typing metadata for the type-checking collaborator. Inert at
	// runtime.
	Params     []Param
	VarTypes   map[string]string
	ReturnType string

	// Per-site caches, indexed by the slot number embedded in the using
	// instruction, not by instruction position.
	InlineCaches       []InlineCache
	InlineMethodCaches []InlineMethodCache
}

// NewCodeObject creates an empty compiled unit.
func NewCodeObject(filename, name string, firstLine int) *CodeObject {
	return &CodeObject{
		Filename:  filename,
		Name:      name,
		FirstLine: firstLine,
	}
}

// AddInstruction appends an instruction and returns its index.
func (co *CodeObject) AddInstruction(op Opcode, a, b, c, line int) int {
	co.Instructions = append(co.Instructions, Instruction{Op: op, A: a, B: b, C: c, Line: line})
	return len(co.Instructions) - 1
}

// AddConstant appends a constant and returns its pool index. Constants are
// not deduplicated; operand stability matters only for the name tables.
func (co *CodeObject) AddConstant(v RcValue) int {
	co.Constants = append(co.Constants, v)
	return len(co.Constants) - 1
}

// addDedup appends name to the table unless already present, returning the
// index either way.
func addDedup(table *[]string, name string) int {
	for i, existing := range *table {
		if existing == name {
			return i
		}
	}
	*table = append(*table, name)
	return len(*table) - 1
}

// AddName interns an attribute/global name and returns its index.
func (co *CodeObject) AddName(name string) int {
	return addDedup(&co.Names, name)
}

// AddVarName interns a local variable name and returns its slot index.
func (co *CodeObject) AddVarName(name string) int {
	return addDedup(&co.VarNames, name)
}

// AddFreeVar interns a free variable name and returns its index.
func (co *CodeObject) AddFreeVar(name string) int {
	return addDedup(&co.FreeVars, name)
}

// AddCellVar interns a cell variable name and returns its index.
func (co *CodeObject) AddCellVar(name string) int {
	return addDedup(&co.CellVars, name)
}

// AddInlineCache appends a zeroed inline cache and returns its slot index.
// The caller embeds the index into the instruction that will use it; the
// code object does not check that embedded slots stay in range.
func (co *CodeObject) AddInlineCache() int {
	co.InlineCaches = append(co.InlineCaches, InlineCache{})
	return len(co.InlineCaches) - 1
}

// AddInlineMethodCache appends a zeroed method cache and returns its slot
// index.
func (co *CodeObject) AddInlineMethodCache() int {
	co.InlineMethodCaches = append(co.InlineMethodCaches, InlineMethodCache{})
	return len(co.InlineMethodCaches) - 1
}

// StructurallyEquals is the loose equality used for debugging and
// deduplication: same name, same instruction count. Never used for
// correctness-critical comparison.
func (co *CodeObject) StructurallyEquals(other *CodeObject) bool {
	if co == nil || other == nil {
		return co == other
	}
	return co.Name == other.Name && len(co.Instructions) == len(other.Instructions)
}

// String returns a short debugging representation.
func (co *CodeObject) String() string {
	return "<code " + co.Name + ">"
}
