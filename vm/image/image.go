// Package image persists code objects to a canonical CBOR wire format.
//
// Only the durable identity of a code object is serialized: instruction
// kinds, arguments, constants, names and the local count. Inline cache
// regions never cross the wire; a loaded stream is requickened against
// the target registry, which also strips any specialized kind that a
// snapshot captured (cached slots and shape IDs are process-local and
// must not survive into another heap).
package image

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/donBarbos/cpython/vm"
)

// FormatVersion is bumped on any incompatible wire change.
const FormatVersion = 1

var magic = "pyadapt"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Module is the top-level wire envelope.
type Module struct {
	Magic  string     `cbor:"1,keyasint"`
	Format uint32     `cbor:"2,keyasint"`
	Name   string     `cbor:"3,keyasint,omitempty"`
	Codes  []WireCode `cbor:"4,keyasint"`
}

// WireCode is the persistence form of one vm.Code.
type WireCode struct {
	Insns     []WireInsn  `cbor:"1,keyasint"`
	Consts    []WireConst `cbor:"2,keyasint,omitempty"`
	Names     []string    `cbor:"3,keyasint,omitempty"`
	NumLocals int         `cbor:"4,keyasint,omitempty"`
}

// WireInsn is one encoded instruction.
type WireInsn struct {
	Op  uint8  `cbor:"1,keyasint"`
	Arg uint32 `cbor:"2,keyasint,omitempty"`
}

// Constant kinds on the wire.
const (
	constNil   = 0
	constBool  = 1
	constInt   = 2
	constFloat = 3
	constStr   = 4
)

// WireConst is one constant pool entry. Exactly one payload field is
// meaningful, selected by Kind.
type WireConst struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint,omitempty"`
	Str   string  `cbor:"4,keyasint,omitempty"`
	Bool  bool    `cbor:"5,keyasint,omitempty"`
}

// encodeConst lowers a constant Value, resolving interned strings through
// the heap. Object values are heap identities and cannot be persisted.
func encodeConst(h *vm.Heap, v vm.Value) (WireConst, error) {
	switch {
	case v == vm.Nil:
		return WireConst{Kind: constNil}, nil
	case v == vm.True:
		return WireConst{Kind: constBool, Bool: true}, nil
	case v == vm.False:
		return WireConst{Kind: constBool, Bool: false}, nil
	case v.IsSmallInt():
		return WireConst{Kind: constInt, Int: v.AsSmallInt()}, nil
	case v.IsFloat():
		return WireConst{Kind: constFloat, Float: v.AsFloat()}, nil
	case v.IsString():
		return WireConst{Kind: constStr, Str: h.StringAt(v)}, nil
	default:
		return WireConst{}, fmt.Errorf("image: constant %s is not persistable", v)
	}
}

// decodeConst raises a wire constant back into a Value, interning strings
// into the target heap.
func decodeConst(h *vm.Heap, wc WireConst) (vm.Value, error) {
	switch wc.Kind {
	case constNil:
		return vm.Nil, nil
	case constBool:
		return vm.MakeBool(wc.Bool), nil
	case constInt:
		return vm.MakeSmallInt(wc.Int), nil
	case constFloat:
		return vm.MakeFloat(wc.Float), nil
	case constStr:
		return h.Intern(wc.Str), nil
	default:
		return vm.Nil, fmt.Errorf("image: unknown constant kind %d", wc.Kind)
	}
}

// Encode lowers a code object to its wire form. The snapshot reflects each
// call site's current kind; specialized kinds are legal on the wire and
// are stripped on load.
func Encode(h *vm.Heap, c *vm.Code) (WireCode, error) {
	snap := c.Snapshot()
	wc := WireCode{
		Insns:     make([]WireInsn, len(snap)),
		Names:     append([]string(nil), c.Names...),
		NumLocals: c.NumLocals,
	}
	for i, enc := range snap {
		wc.Insns[i] = WireInsn{Op: uint8(enc.Op), Arg: enc.Arg}
	}
	for i, v := range c.Consts {
		enc, err := encodeConst(h, v)
		if err != nil {
			return WireCode{}, fmt.Errorf("const %d: %w", i, err)
		}
		wc.Consts = append(wc.Consts, enc)
	}
	return wc, nil
}

// Decode raises a wire code object and quickens it against reg, so every
// adaptive site comes back at its base kind with a fresh warmup counter.
func Decode(reg *vm.Registry, h *vm.Heap, wc WireCode) (*vm.Code, error) {
	b := vm.NewCodeBuilder()
	b.Locals(wc.NumLocals)
	for i, insn := range wc.Insns {
		op := vm.Opcode(insn.Op)
		if !op.Valid() {
			return nil, fmt.Errorf("image: instruction %d: unknown opcode %#02x", i, insn.Op)
		}
		b.Emit(op, insn.Arg)
	}
	c := b.Build()
	for i, wcst := range wc.Consts {
		v, err := decodeConst(h, wcst)
		if err != nil {
			return nil, fmt.Errorf("const %d: %w", i, err)
		}
		c.Consts = append(c.Consts, v)
	}
	c.Names = append([]string(nil), wc.Names...)
	if err := c.Quicken(reg); err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal serializes a module of code objects to canonical CBOR.
func Marshal(h *vm.Heap, name string, codes ...*vm.Code) ([]byte, error) {
	m := Module{
		Magic:  magic,
		Format: FormatVersion,
		Name:   name,
	}
	for i, c := range codes {
		wc, err := Encode(h, c)
		if err != nil {
			return nil, fmt.Errorf("image: code %d: %w", i, err)
		}
		m.Codes = append(m.Codes, wc)
	}
	return cborEncMode.Marshal(&m)
}

// Unmarshal deserializes a module and quickens every code object against
// reg, interning string constants into h.
func Unmarshal(data []byte, reg *vm.Registry, h *vm.Heap) (string, []*vm.Code, error) {
	var m Module
	if err := cbor.Unmarshal(data, &m); err != nil {
		return "", nil, fmt.Errorf("image: unmarshal module: %w", err)
	}
	if m.Magic != magic {
		return "", nil, fmt.Errorf("image: bad magic %q", m.Magic)
	}
	if m.Format != FormatVersion {
		return "", nil, fmt.Errorf("image: format %d not supported (want %d)", m.Format, FormatVersion)
	}
	codes := make([]*vm.Code, 0, len(m.Codes))
	for i, wc := range m.Codes {
		c, err := Decode(reg, h, wc)
		if err != nil {
			return "", nil, fmt.Errorf("image: code %d: %w", i, err)
		}
		codes = append(codes, c)
	}
	return m.Name, codes, nil
}
