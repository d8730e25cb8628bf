package vm

import (
	"fmt"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Instruction: one call site in a decoded instruction stream
// ---------------------------------------------------------------------------

// Instruction is a single call site: a mutable instruction kind plus the
// fixed-size inline cache region its family dictates.
//
// The kind is the atomically published dispatch tag. A specialization
// writes its non-counter cache entries first and swaps the kind last, so
// any task that observes a specialized kind also observes the cache data
// that kind's guards will read. A deopt-to-base swaps the kind back first
// for the same reason.
//
// The counter entry and re-specialization payload rewrites are plain
// writes: at most one task executes a quickened code object at a time.
// A code object may move between interpreters, but concurrent execution
// needs one quickened Clone per task.
type Instruction struct {
	kind  atomic.Uint32
	Arg   uint32
	cache []CacheEntry // nil for kinds outside any adaptive family
}

// Kind returns the call site's current instruction kind.
func (site *Instruction) Kind() Opcode {
	return Opcode(site.kind.Load())
}

// setKind publishes a new kind for the call site.
func (site *Instruction) setKind(op Opcode) {
	site.kind.Store(uint32(op))
}

// Cache returns the call site's inline cache region. Nil until the owning
// code object has been quickened against a registry.
func (site *Instruction) Cache() []CacheEntry {
	return site.cache
}

// EncodedInsn is the persistence form of an instruction: kind and
// argument only. Cache regions are an execution-time artifact; their
// size is recomputed from the registry when the stream is requickened.
type EncodedInsn struct {
	Op  Opcode
	Arg uint32
}

// ---------------------------------------------------------------------------
// Code: a decoded instruction stream
// ---------------------------------------------------------------------------

// Code is a compiled code object: the decoded instruction stream together
// with its constants and names. It owns its call sites; their lifetime is
// the lifetime of the code object.
type Code struct {
	Insns  []Instruction
	Consts []Value
	Names  []string

	NumLocals int

	quickened bool
}

// Clone returns an independent copy of the code object for another task
// to quicken and execute. No cache state is shared with the receiver;
// quickening the clone puts any adaptive call site back to its base
// kind with a fresh cache region.
func (c *Code) Clone() *Code {
	out := &Code{
		Insns:     make([]Instruction, len(c.Insns)),
		Consts:    append([]Value(nil), c.Consts...),
		Names:     append([]string(nil), c.Names...),
		NumLocals: c.NumLocals,
	}
	for i := range c.Insns {
		out.Insns[i].Arg = c.Insns[i].Arg
		out.Insns[i].setKind(c.Insns[i].Kind())
	}
	return out
}

// Snapshot returns the persistence form of the instruction stream,
// reflecting each call site's current kind.
func (c *Code) Snapshot() []EncodedInsn {
	out := make([]EncodedInsn, len(c.Insns))
	for i := range c.Insns {
		out[i] = EncodedInsn{Op: c.Insns[i].Kind(), Arg: c.Insns[i].Arg}
	}
	return out
}

// Quicken prepares the stream for adaptive execution against a registry:
// any kind that is a member of an adaptive family is rewritten to the
// family's base kind and given a fresh cache region with a warmup
// counter. Quickening is idempotent and also serves as de-quickening for
// streams loaded from an image, where a stale specialized kind must not
// survive into a process with different heap identities.
func (c *Code) Quicken(reg *Registry) error {
	if !reg.Finalized() {
		return fmt.Errorf("vm: quicken against unfinalized registry")
	}
	for i := range c.Insns {
		site := &c.Insns[i]
		fam := reg.familyOf(site.Kind())
		if fam == nil {
			site.cache = nil
			continue
		}
		site.cache = make([]CacheEntry, fam.cacheSize)
		storeCounter(site.cache, initialCounter(fam.warmup))
		site.setKind(fam.base)
	}
	c.quickened = true
	return nil
}

// ---------------------------------------------------------------------------
// CodeBuilder
// ---------------------------------------------------------------------------

// CodeBuilder constructs code objects for tests, demos and image loading.
type CodeBuilder struct {
	insns     []EncodedInsn
	consts    []Value
	names     []string
	nameIndex map[string]int
	numLocals int
}

// NewCodeBuilder creates an empty code builder.
func NewCodeBuilder() *CodeBuilder {
	return &CodeBuilder{
		nameIndex: make(map[string]int),
	}
}

// Emit appends an instruction and returns its index.
func (b *CodeBuilder) Emit(op Opcode, arg uint32) int {
	b.insns = append(b.insns, EncodedInsn{Op: op, Arg: arg})
	return len(b.insns) - 1
}

// Len returns the number of instructions emitted so far.
func (b *CodeBuilder) Len() int {
	return len(b.insns)
}

// SetArg patches the argument of a previously emitted instruction,
// used to resolve forward jump targets.
func (b *CodeBuilder) SetArg(index int, arg uint32) {
	b.insns[index].Arg = arg
}

// Const registers a constant and returns its index.
func (b *CodeBuilder) Const(v Value) uint32 {
	b.consts = append(b.consts, v)
	return uint32(len(b.consts) - 1)
}

// Name registers a name and returns its index, deduplicating.
func (b *CodeBuilder) Name(name string) uint32 {
	if idx, ok := b.nameIndex[name]; ok {
		return uint32(idx)
	}
	b.nameIndex[name] = len(b.names)
	b.names = append(b.names, name)
	return uint32(len(b.names) - 1)
}

// Locals reserves local variable slots.
func (b *CodeBuilder) Locals(n int) {
	if n > b.numLocals {
		b.numLocals = n
	}
}

// Build assembles the code object. The result is not yet quickened.
func (b *CodeBuilder) Build() *Code {
	c := &Code{
		Insns:     make([]Instruction, len(b.insns)),
		Consts:    append([]Value(nil), b.consts...),
		Names:     append([]string(nil), b.names...),
		NumLocals: b.numLocals,
	}
	for i, enc := range b.insns {
		c.Insns[i].Arg = enc.Arg
		c.Insns[i].setKind(enc.Op)
	}
	return c
}
