package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies one register-machine instruction. Operand meanings use
// R(x) for registers, K(x) for the constant pool, L(x) for local slots,
// N(x) for the name table, F(x) for free variables.
type Opcode uint8

// Register moves and constants
const (
	OpNop       Opcode = iota // no operation
	OpMove                    // R(A) = R(B)
	OpLoadConst               // R(A) = K(B)
	OpLoadNone                // R(A) = none
	OpLoadTrue                // R(A) = true
	OpLoadFalse               // R(A) = false
)

// Locals, globals, free variables
const (
	OpLoadLocal   Opcode = iota + 0x10 // R(A) = L(B)
	OpStoreLocal                       // L(A) = R(B)
	OpLoadGlobal                       // R(A) = globals[N(B)], cache slot C
	OpStoreGlobal                      // globals[N(A)] = R(B)
	OpLoadFree                         // R(A) = F(B)
	OpStoreFree                        // F(A) = R(B)
)

// Arithmetic and comparison
const (
	OpAdd Opcode = iota + 0x20 // R(A) = R(B) + R(C)
	OpSub                      // R(A) = R(B) - R(C)
	OpMul                      // R(A) = R(B) * R(C)
	OpDiv                      // R(A) = R(B) / R(C)
	OpMod                      // R(A) = R(B) % R(C)
	OpNeg                      // R(A) = -R(B)
	OpNot                      // R(A) = !R(B)
	OpEq                       // R(A) = R(B) == R(C)
	OpNe                       // R(A) = R(B) != R(C)
	OpLt                       // R(A) = R(B) < R(C)
	OpLe                       // R(A) = R(B) <= R(C)
	OpGt                       // R(A) = R(B) > R(C)
	OpGe                       // R(A) = R(B) >= R(C)
)

// Aggregates and attributes
const (
	OpBuildTuple Opcode = iota + 0x40 // R(A) = (R(B) .. R(B+C-1))
	OpBuildMap                        // R(A) = {} with C pairs from R(B)..
	OpGetAttr                         // R(A) = R(B).N(C)
	OpSetAttr                         // R(A).N(B) = R(C)
)

// Closures and calls
const (
	OpMakeClosure Opcode = iota + 0x50 // R(A) = closure of K(B), C captures from R(A+1)..
	OpLoadMethod                       // R(A) = bound method R(A).N(B), cache slot C
	OpCall                             // call R(A) with R(A+1)..R(A+B), result in R(C)
	OpReturn                           // return R(A)
)

// Control flow
const (
	OpJump        Opcode = iota + 0x60 // pc = A
	OpJumpIfFalse                      // if !R(A) then pc = B
	OpJumpIfTrue                       // if R(A) then pc = B
)

// Block stack
const (
	OpSetupLoop    Opcode = iota + 0x70 // push Loop block, handler A, level B
	OpSetupExcept                       // push Except block, handler A, level B
	OpSetupFinally                      // push Finally block, handler A, level B
	OpSetupWith                         // push With block, handler A, level B
	OpPopBlock                          // pop the top block
	OpBreak                             // unwind to nearest Loop, jump to its handler
	OpContinue                          // unwind to nearest Loop, pc = A
	OpRaise                             // raise R(A)
	OpLoadExc                           // R(A) = current exception
	OpEndFinally                        // resume a suspended unwind, if any
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds display metadata about an opcode.
type OpcodeInfo struct {
	Name     string
	Operands int // how many of A, B, C are meaningful
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:       {"NOP", 0},
	OpMove:      {"MOVE", 2},
	OpLoadConst: {"LOADCONST", 2},
	OpLoadNone:  {"LOADNONE", 1},
	OpLoadTrue:  {"LOADTRUE", 1},
	OpLoadFalse: {"LOADFALSE", 1},

	OpLoadLocal:   {"LOADLOCAL", 2},
	OpStoreLocal:  {"STORELOCAL", 2},
	OpLoadGlobal:  {"LOADGLOBAL", 3},
	OpStoreGlobal: {"STOREGLOBAL", 2},
	OpLoadFree:    {"LOADFREE", 2},
	OpStoreFree:   {"STOREFREE", 2},

	OpAdd: {"ADD", 3},
	OpSub: {"SUB", 3},
	OpMul: {"MUL", 3},
	OpDiv: {"DIV", 3},
	OpMod: {"MOD", 3},
	OpNeg: {"NEG", 2},
	OpNot: {"NOT", 2},
	OpEq:  {"EQ", 3},
	OpNe:  {"NE", 3},
	OpLt:  {"LT", 3},
	OpLe:  {"LE", 3},
	OpGt:  {"GT", 3},
	OpGe:  {"GE", 3},

	OpBuildTuple: {"BUILDTUPLE", 3},
	OpBuildMap:   {"BUILDMAP", 3},
	OpGetAttr:    {"GETATTR", 3},
	OpSetAttr:    {"SETATTR", 3},

	OpMakeClosure: {"MAKECLOSURE", 3},
	OpLoadMethod:  {"LOADMETHOD", 3},
	OpCall:        {"CALL", 3},
	OpReturn:      {"RETURN", 1},

	OpJump:        {"JUMP", 1},
	OpJumpIfFalse: {"JUMPIFFALSE", 2},
	OpJumpIfTrue:  {"JUMPIFTRUE", 2},

	OpSetupLoop:    {"SETUPLOOP", 2},
	OpSetupExcept:  {"SETUPEXCEPT", 2},
	OpSetupFinally: {"SETUPFINALLY", 2},
	OpSetupWith:    {"SETUPWITH", 2},
	OpPopBlock:     {"POPBLOCK", 0},
	OpBreak:        {"BREAK", 0},
	OpContinue:     {"CONTINUE", 1},
	OpRaise:        {"RAISE", 1},
	OpLoadExc:      {"LOADEXC", 1},
	OpEndFinally:   {"ENDFINALLY", 0},
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("OP_%02X", uint8(op))
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders the instruction stream of a code object for debugging.
func Disassemble(co *CodeObject) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s:%d) registers=%d\n", co.Name, co.Filename, co.FirstLine, co.Registers)
	for i, ins := range co.Instructions {
		info, ok := opcodeTable[ins.Op]
		if !ok {
			fmt.Fprintf(&sb, "%4d  OP_%02X\n", i, uint8(ins.Op))
			continue
		}
		fmt.Fprintf(&sb, "%4d  %-12s", i, info.Name)
		switch info.Operands {
		case 1:
			fmt.Fprintf(&sb, " %d", ins.A)
		case 2:
			fmt.Fprintf(&sb, " %d %d", ins.A, ins.B)
		case 3:
			fmt.Fprintf(&sb, " %d %d %d", ins.A, ins.B, ins.C)
		}
		if ann := annotate(co, ins); ann != "" {
			fmt.Fprintf(&sb, "  ; %s", ann)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// annotate resolves operand indices to something human-readable.
func annotate(co *CodeObject, ins Instruction) string {
	switch ins.Op {
	case OpLoadConst:
		if ins.B < len(co.Constants) {
			return co.Constants[ins.B].Value().String()
		}
	case OpLoadLocal:
		if ins.B < len(co.VarNames) {
			return co.VarNames[ins.B]
		}
	case OpStoreLocal:
		if ins.A < len(co.VarNames) {
			return co.VarNames[ins.A]
		}
	case OpLoadGlobal, OpLoadMethod:
		if ins.B < len(co.Names) {
			return co.Names[ins.B]
		}
	case OpGetAttr:
		if ins.C < len(co.Names) {
			return co.Names[ins.C]
		}
	case OpStoreGlobal:
		if ins.A < len(co.Names) {
			return co.Names[ins.A]
		}
	case OpSetAttr:
		if ins.B < len(co.Names) {
			return co.Names[ins.B]
		}
	case OpLoadFree, OpStoreFree:
		idx := ins.B
		if ins.Op == OpStoreFree {
			idx = ins.A
		}
		if idx < len(co.FreeVars) {
			return co.FreeVars[idx]
		}
	}
	return ""
}
