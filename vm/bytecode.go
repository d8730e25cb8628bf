package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies an instruction kind. A call site starts out holding a
// base (adaptive) kind and may be rewritten in place to hold one of its
// family's specialized kinds, or rewritten back.
type Opcode uint8

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Loads and Stores
const (
	OpLoadConst   Opcode = 0x10 // push constant (arg = constant index)
	OpLoadFast    Opcode = 0x11 // push local (arg = local index)
	OpStoreFast   Opcode = 0x12 // pop into local (arg = local index)
	OpStoreGlobal Opcode = 0x13 // pop into global (arg = name index)
	OpStoreAttr   Opcode = 0x14 // pop value, pop object, store field (arg = name index)
)

// Adaptive families. Each base kind owns a block of specialized kinds;
// every member of a family shares the base's cache footprint.
const (
	OpLoadGlobal       Opcode = 0x20 // base: push global by name (arg = name index)
	OpLoadGlobalCached Opcode = 0x21 // guard global table version, read cached slot

	OpLoadAttr     Opcode = 0x30 // base: push object field by name (arg = name index)
	OpLoadAttrSlot Opcode = 0x31 // guard object shape, read cached offset

	OpBinaryOp        Opcode = 0x40 // base: binary operator (arg = BinOp)
	OpBinaryAddInt    Opcode = 0x41 // guard int tags, add
	OpBinaryAddFloat  Opcode = 0x42 // guard float tags, add
	OpBinaryConcatStr Opcode = 0x43 // guard string tags, concatenate
	OpBinaryMulInt    Opcode = 0x44 // guard int tags, multiply
)

// Comparison and Control Flow
const (
	OpCompareOp   Opcode = 0x50 // binary comparison (arg = CmpOp)
	OpJump        Opcode = 0x60 // unconditional jump (arg = target index)
	OpJumpIfFalse Opcode = 0x61 // pop, jump if falsy (arg = target index)
	OpReturn      Opcode = 0x70 // return top of stack
)

// BinOp selects the operator for OpBinaryOp.
type BinOp uint32

const (
	BinAdd BinOp = iota // + (ints, floats, string concat)
	BinSub              // - (ints, floats)
	BinMul              // * (ints, floats)
)

// CmpOp selects the operator for OpCompareOp.
type CmpOp uint32

const (
	CmpEq CmpOp = iota // =
	CmpNe              // ~=
	CmpLt              // <
	CmpLe              // <=
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	HasArg      bool   // whether the instruction argument is meaningful
	StackEffect int    // net effect on stack (-1 per popped value)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", false, 0},
	OpPop: {"POP", false, -1},
	OpDup: {"DUP", false, 1},

	OpLoadConst:   {"LOAD_CONST", true, 1},
	OpLoadFast:    {"LOAD_FAST", true, 1},
	OpStoreFast:   {"STORE_FAST", true, -1},
	OpStoreGlobal: {"STORE_GLOBAL", true, -1},
	OpStoreAttr:   {"STORE_ATTR", true, -2},

	OpLoadGlobal:       {"LOAD_GLOBAL", true, 1},
	OpLoadGlobalCached: {"LOAD_GLOBAL_CACHED", true, 1},

	OpLoadAttr:     {"LOAD_ATTR", true, 0},
	OpLoadAttrSlot: {"LOAD_ATTR_SLOT", true, 0},

	OpBinaryOp:        {"BINARY_OP", true, -1},
	OpBinaryAddInt:    {"BINARY_ADD_INT", true, -1},
	OpBinaryAddFloat:  {"BINARY_ADD_FLOAT", true, -1},
	OpBinaryConcatStr: {"BINARY_CONCAT_STR", true, -1},
	OpBinaryMulInt:    {"BINARY_MUL_INT", true, -1},

	OpCompareOp:   {"COMPARE_OP", true, -1},
	OpJump:        {"JUMP", true, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", true, -1},
	OpReturn:      {"RETURN", false, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

func (b BinOp) String() string {
	switch b {
	case BinAdd:
		return "+"
	case BinSub:
		return "-"
	case BinMul:
		return "*"
	}
	return fmt.Sprintf("binop(%d)", uint32(b))
}

func (c CmpOp) String() string {
	switch c {
	case CmpEq:
		return "="
	case CmpNe:
		return "~="
	case CmpLt:
		return "<"
	case CmpLe:
		return "<="
	}
	return fmt.Sprintf("cmpop(%d)", uint32(c))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders one instruction, including its cache
// state when the kind belongs to an adaptive family.
func DisassembleInstruction(index int, site *Instruction) string {
	op := site.Kind()
	info := op.Info()

	var b strings.Builder
	if info.HasArg {
		fmt.Fprintf(&b, "%04d  %-20s %d", index, info.Name, site.Arg)
	} else {
		fmt.Fprintf(&b, "%04d  %s", index, info.Name)
	}

	if cache := site.cache; cache != nil {
		fmt.Fprintf(&b, "  [counter=%d/%d", BackoffCounter(cache[cacheCounter]).Value(),
			BackoffCounter(cache[cacheCounter]).Exponent())
		for _, e := range cache[1:] {
			fmt.Fprintf(&b, " %#04x", uint16(e))
		}
		b.WriteString("]")
	}
	return b.String()
}

// Disassemble returns a full disassembly of a code object.
func Disassemble(c *Code) string {
	var lines []string
	for i := range c.Insns {
		lines = append(lines, DisassembleInstruction(i, &c.Insns[i]))
	}
	return strings.Join(lines, "\n")
}
