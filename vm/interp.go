package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Interp: stack-machine execution context
// ---------------------------------------------------------------------------

// Interp executes decoded instruction streams against a heap and a global
// table, dispatching through a finalized registry's jump table. It is the
// stable execution context the base and specialized executors honor
// identically: operand stack access plus the runtime value stores guards
// consult.
//
// One Interp is one logical stream of instruction execution. Independent
// tasks run independent Interps. A code object may move between Interps,
// but only one task executes it at a time; tasks that need the same
// program concurrently each quicken their own Code.Clone. Call sites
// still publish kind changes atomically so observers such as the stats
// service read a consistent kind.
type Interp struct {
	reg   *Registry
	stats *Recorder

	Heap    *Heap
	Globals *GlobalTable

	stack  []Value
	sp     int
	locals []Value
	ip     int

	returned bool
	ret      Value

	// specEnabled gates the adaptive counting policy. When false every
	// family runs base-only semantics forever, which is the reference
	// behavior the transparency tests compare against.
	specEnabled bool
}

// InterpOption configures an Interp.
type InterpOption func(*Interp)

// WithSpecializationDisabled forces base-only execution for every family.
func WithSpecializationDisabled() InterpOption {
	return func(in *Interp) { in.specEnabled = false }
}

// NewInterp creates an interpreter bound to a finalized registry.
func NewInterp(reg *Registry, heap *Heap, globals *GlobalTable, opts ...InterpOption) (*Interp, error) {
	if !reg.Finalized() {
		return nil, ErrNotFinalized
	}
	in := &Interp{
		reg:         reg,
		stats:       reg.Stats(),
		Heap:        heap,
		Globals:     globals,
		stack:       make([]Value, 256),
		specEnabled: true,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (in *Interp) push(v Value) {
	if in.sp >= len(in.stack) {
		newStack := make([]Value, len(in.stack)*2)
		copy(newStack, in.stack)
		in.stack = newStack
	}
	in.stack[in.sp] = v
	in.sp++
}

func (in *Interp) pop() Value {
	if in.sp <= 0 {
		panic("stack underflow")
	}
	in.sp--
	return in.stack[in.sp]
}

func (in *Interp) top() Value {
	if in.sp <= 0 {
		panic("stack underflow")
	}
	return in.stack[in.sp-1]
}

// peek returns the value n slots below the top without popping.
func (in *Interp) peek(n int) Value {
	if in.sp <= n {
		panic("stack underflow")
	}
	return in.stack[in.sp-1-n]
}

// replaceTop overwrites the top of stack in place, the common shape for
// one-in-one-out operations like attribute loads.
func (in *Interp) replaceTop(v Value) {
	if in.sp <= 0 {
		panic("stack underflow")
	}
	in.stack[in.sp-1] = v
}

// replace2 pops two operands and pushes their result in one motion, the
// common shape for binary operations whose operands were already fetched
// during guard evaluation.
func (in *Interp) replace2(v Value) {
	if in.sp < 2 {
		panic("stack underflow")
	}
	in.sp--
	in.stack[in.sp-1] = v
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes a quickened code object from the top and returns the value
// of its RETURN instruction. Inline caches persist across runs: executing
// the same code object repeatedly is how a call site gets hot.
func (in *Interp) Run(c *Code) (Value, error) {
	if !c.quickened {
		return Nil, fmt.Errorf("vm: code object not quickened")
	}
	in.sp = 0
	in.ip = 0
	in.returned = false
	in.ret = Nil
	if cap(in.locals) < c.NumLocals {
		in.locals = make([]Value, c.NumLocals)
	}
	in.locals = in.locals[:c.NumLocals]
	for i := range in.locals {
		in.locals[i] = Nil
	}

	for in.ip < len(c.Insns) {
		site := &c.Insns[in.ip]
		in.ip++
		exec := in.reg.exec[site.Kind()]
		if exec == nil {
			return Nil, fmt.Errorf("vm: no executor for %s at %d", site.Kind(), in.ip-1)
		}
		if err := exec(in, c, site); err != nil {
			return Nil, err
		}
		if in.returned {
			return in.ret, nil
		}
	}
	return Nil, fmt.Errorf("vm: fell off end of code without RETURN")
}

// ---------------------------------------------------------------------------
// Plain (non-adaptive) executors
// ---------------------------------------------------------------------------

func execNop(in *Interp, c *Code, site *Instruction) error {
	return nil
}

func execPop(in *Interp, c *Code, site *Instruction) error {
	in.pop()
	return nil
}

func execDup(in *Interp, c *Code, site *Instruction) error {
	in.push(in.top())
	return nil
}

func execLoadConst(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(c.Consts) {
		return fmt.Errorf("vm: constant index %d out of range", site.Arg)
	}
	in.push(c.Consts[site.Arg])
	return nil
}

func execLoadFast(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(in.locals) {
		return fmt.Errorf("vm: local index %d out of range", site.Arg)
	}
	in.push(in.locals[site.Arg])
	return nil
}

func execStoreFast(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(in.locals) {
		return fmt.Errorf("vm: local index %d out of range", site.Arg)
	}
	in.locals[site.Arg] = in.pop()
	return nil
}

func execStoreGlobal(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(c.Names) {
		return fmt.Errorf("vm: name index %d out of range", site.Arg)
	}
	in.Globals.Define(c.Names[site.Arg], in.pop())
	return nil
}

func execStoreAttr(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(c.Names) {
		return fmt.Errorf("vm: name index %d out of range", site.Arg)
	}
	name := c.Names[site.Arg]
	v := in.pop()
	recv := in.pop()
	obj := in.Heap.Object(recv)
	if obj == nil {
		return fmt.Errorf("vm: STORE_ATTR on non-object %s", recv)
	}
	off := obj.Shape.OffsetOf(name)
	if off < 0 {
		return fmt.Errorf("vm: object has no attribute %q", name)
	}
	obj.Fields[off] = v
	return nil
}

func execCompareOp(in *Interp, c *Code, site *Instruction) error {
	right := in.pop()
	left := in.pop()
	result, err := compareValues(left, right, CmpOp(site.Arg))
	if err != nil {
		return err
	}
	in.push(result)
	return nil
}

func compareValues(left, right Value, op CmpOp) (Value, error) {
	switch op {
	case CmpEq:
		return MakeBool(valuesEqual(left, right)), nil
	case CmpNe:
		return MakeBool(!valuesEqual(left, right)), nil
	case CmpLt, CmpLe:
		lf, lok := numericValue(left)
		rf, rok := numericValue(right)
		if !lok || !rok {
			return Nil, fmt.Errorf("vm: %s on non-numeric operands", op)
		}
		if op == CmpLt {
			return MakeBool(lf < rf), nil
		}
		return MakeBool(lf <= rf), nil
	}
	return Nil, fmt.Errorf("vm: unknown comparison %d", uint32(op))
}

// valuesEqual compares by numeric value across int/float, identity
// otherwise.
func valuesEqual(left, right Value) bool {
	if lf, lok := numericValue(left); lok {
		if rf, rok := numericValue(right); rok {
			return lf == rf
		}
		return false
	}
	return left == right
}

func numericValue(v Value) (float64, bool) {
	if v.IsSmallInt() {
		return float64(v.AsSmallInt()), true
	}
	if v.IsFloat() {
		return v.AsFloat(), true
	}
	return 0, false
}

func execJump(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) > len(c.Insns) {
		return fmt.Errorf("vm: jump target %d out of range", site.Arg)
	}
	in.ip = int(site.Arg)
	return nil
}

func execJumpIfFalse(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) > len(c.Insns) {
		return fmt.Errorf("vm: jump target %d out of range", site.Arg)
	}
	if !in.pop().IsTruthy() {
		in.ip = int(site.Arg)
	}
	return nil
}

func execReturn(in *Interp, c *Code, site *Instruction) error {
	in.ret = in.pop()
	in.returned = true
	return nil
}

// installPlainOps registers all non-adaptive opcodes.
func installPlainOps(reg *Registry) error {
	plain := map[Opcode]Executor{
		OpNop:         execNop,
		OpPop:         execPop,
		OpDup:         execDup,
		OpLoadConst:   execLoadConst,
		OpLoadFast:    execLoadFast,
		OpStoreFast:   execStoreFast,
		OpStoreGlobal: execStoreGlobal,
		OpStoreAttr:   execStoreAttr,
		OpCompareOp:   execCompareOp,
		OpJump:        execJump,
		OpJumpIfFalse: execJumpIfFalse,
		OpReturn:      execReturn,
	}
	for op, exec := range plain {
		if err := reg.InstallOp(op, exec); err != nil {
			return err
		}
	}
	return nil
}
