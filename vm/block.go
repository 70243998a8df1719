package vm

// ---------------------------------------------------------------------------
// Block stack: structured control flow without host exceptions
// ---------------------------------------------------------------------------

// BlockType tags a control-flow region on the block stack.
type BlockType uint8

const (
	LoopBlock    BlockType = iota // break/continue target
	ExceptBlock                   // exception handler region
	FinallyBlock                  // always-runs region
	WithBlock                     // context-manager region
)

// String returns the block type name.
func (bt BlockType) String() string {
	switch bt {
	case LoopBlock:
		return "loop"
	case ExceptBlock:
		return "except"
	case FinallyBlock:
		return "finally"
	case WithBlock:
		return "with"
	}
	return "unknown"
}

// Block is one structured control-flow record. Handler is the instruction
// index control transfers to on unwind; Level is the register watermark to
// restore before the transfer.
type Block struct {
	Type    BlockType
	Handler int
	Level   int
}

// PushBlock enters a structured region.
func (f *Frame) PushBlock(bt BlockType, handler, level int) {
	f.BlockStack = append(f.BlockStack, Block{Type: bt, Handler: handler, Level: level})
}

// PopBlock leaves the innermost region on its normal exit path. Panics on
// an empty stack: block pairing is compiler-generated.
func (f *Frame) PopBlock() Block {
	n := len(f.BlockStack)
	if n == 0 {
		panic("vm: PopBlock on empty block stack")
	}
	b := f.BlockStack[n-1]
	f.BlockStack = f.BlockStack[:n-1]
	return b
}

// unwindMatch reports whether a block can serve as the unwind target for
// the given abnormal exit.
func unwindMatch(bt BlockType, reason UnwindReason) bool {
	switch reason {
	case UnwindBreak, UnwindContinue:
		return bt == LoopBlock
	case UnwindRaise:
		return bt == ExceptBlock || bt == FinallyBlock || bt == WithBlock
	case UnwindReturn:
		return bt == FinallyBlock || bt == WithBlock
	}
	return false
}

// UnwindReason says why the block stack is being searched.
type UnwindReason uint8

const (
	UnwindBreak UnwindReason = iota
	UnwindContinue
	UnwindReturn
	UnwindRaise
)

// UnwindTo walks the block stack from the top looking for the nearest block
// matching the reason, popping everything above it (and the match itself,
// except a Loop targeted by continue, which stays in place for the next
// iteration). It returns the matched block and true, or false when no block
// in this frame can handle the exit and the unwind must continue in the
// caller.
func (f *Frame) UnwindTo(reason UnwindReason) (Block, bool) {
	for len(f.BlockStack) > 0 {
		b := f.BlockStack[len(f.BlockStack)-1]
		if unwindMatch(b.Type, reason) {
			if reason != UnwindContinue {
				f.BlockStack = f.BlockStack[:len(f.BlockStack)-1]
			}
			f.TruncateRegisters(b.Level)
			return b, true
		}
		f.BlockStack = f.BlockStack[:len(f.BlockStack)-1]
	}
	return Block{}, false
}

// TruncateRegisters releases every register at or above level, resetting it
// to the none value. This restores the evaluation state a block recorded on
// entry.
func (f *Frame) TruncateRegisters(level int) {
	for i := level; i < len(f.Registers); i++ {
		if f.Registers[i].cell != None.cell {
			f.Registers[i].Release()
			f.Registers[i] = None
		}
	}
}
