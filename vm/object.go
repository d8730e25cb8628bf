package vm

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Shapes: layout identity for heap objects
// ---------------------------------------------------------------------------

// maxShapeID is the largest shape identity a heap can hand out. Inline
// caches store the ID in a single 16-bit entry.
const maxShapeID = 0xFFFF

// Shape describes the field layout of a heap object. Two objects with the
// same Shape store the same field names at the same offsets, so a shape
// identity check is enough to validate a cached field offset.
type Shape struct {
	ID      uint16
	Names   []string
	offsets map[string]int
}

// OffsetOf returns the field offset for a name, or -1 if absent.
func (s *Shape) OffsetOf(name string) int {
	if off, ok := s.offsets[name]; ok {
		return off
	}
	return -1
}

// Object is a heap object: a shape plus a flat field array.
type Object struct {
	Shape  *Shape
	Fields []Value
}

// ---------------------------------------------------------------------------
// Heap: object and string storage
// ---------------------------------------------------------------------------

// Heap owns the objects and interned strings that Values reference by
// index. It is the runtime value store guards consult; the dispatcher
// never creates or destroys it.
type Heap struct {
	objects []*Object
	shapes  []*Shape

	strings  []string
	stringID map[string]int
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		stringID: make(map[string]int),
	}
}

// NewShape creates and registers a shape with the given field names.
// A heap holds at most 65536 shapes; the 16-bit ID is a guard token and
// must never alias two layouts. NewShape panics when the table is full.
func (h *Heap) NewShape(names ...string) *Shape {
	if len(h.shapes) > maxShapeID {
		panic("vm: shape table exhausted")
	}
	s := &Shape{
		ID:      uint16(len(h.shapes)),
		Names:   names,
		offsets: make(map[string]int, len(names)),
	}
	for i, n := range names {
		s.offsets[n] = i
	}
	h.shapes = append(h.shapes, s)
	return s
}

// NewObject allocates an object with the given shape and field values and
// returns a Value referencing it. Missing fields are nil.
func (h *Heap) NewObject(shape *Shape, fields ...Value) Value {
	obj := &Object{
		Shape:  shape,
		Fields: make([]Value, len(shape.Names)),
	}
	for i := range obj.Fields {
		if i < len(fields) {
			obj.Fields[i] = fields[i]
		} else {
			obj.Fields[i] = Nil
		}
	}
	h.objects = append(h.objects, obj)
	return MakeObject(len(h.objects) - 1)
}

// Object returns the object referenced by v, or nil if v is not an object.
func (h *Heap) Object(v Value) *Object {
	if !v.IsObject() {
		return nil
	}
	idx := v.AsIndex()
	if idx < 0 || idx >= len(h.objects) {
		return nil
	}
	return h.objects[idx]
}

// Intern returns a string Value for s, interning it on first use.
func (h *Heap) Intern(s string) Value {
	if id, ok := h.stringID[s]; ok {
		return MakeString(id)
	}
	id := len(h.strings)
	h.strings = append(h.strings, s)
	h.stringID[s] = id
	return MakeString(id)
}

// StringAt returns the interned string for a string Value.
func (h *Heap) StringAt(v Value) string {
	if !v.IsString() {
		return ""
	}
	idx := v.AsIndex()
	if idx < 0 || idx >= len(h.strings) {
		return ""
	}
	return h.strings[idx]
}

// FormatValue renders v, resolving strings and objects through the heap.
func (h *Heap) FormatValue(v Value) string {
	switch {
	case v.IsString():
		return fmt.Sprintf("%q", h.StringAt(v))
	case v.IsObject():
		obj := h.Object(v)
		if obj == nil {
			return v.String()
		}
		var b strings.Builder
		b.WriteString("{")
		for i, name := range obj.Shape.Names {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", name, obj.Fields[i].String())
		}
		b.WriteString("}")
		return b.String()
	default:
		return v.String()
	}
}

// ---------------------------------------------------------------------------
// GlobalTable: versioned name -> value store
// ---------------------------------------------------------------------------

// GlobalTable maps global names to slots. Every define or store stamps
// the table with a fresh version, which is the datum the LoadGlobal
// family guards against: a cached (version, slot) pair stays valid
// exactly as long as no global has been touched since it was cached.
//
// Stamps are drawn from one process-wide counter, never per table. A
// quickened code object can move between interpreters bound to
// different tables, and a stamp cached against one table must not
// coincide with another table's current stamp, or the guard would pass
// against the wrong slot array.
type GlobalTable struct {
	slots   []Value
	names   []string
	index   map[string]int
	version uint32
}

// tableStamp issues version stamps for every GlobalTable in the process.
// Stamp 0 is reserved so a zeroed cache entry can never pass a guard.
var tableStamp atomic.Uint32

// NewGlobalTable creates an empty global table with a fresh version stamp.
func NewGlobalTable() *GlobalTable {
	return &GlobalTable{
		index:   make(map[string]int),
		version: tableStamp.Add(1),
	}
}

// Version returns the current version stamp.
func (g *GlobalTable) Version() uint32 {
	return g.version
}

// Len returns the number of defined globals.
func (g *GlobalTable) Len() int {
	return len(g.slots)
}

// Define binds a name to a value, creating its slot if needed.
// Always takes a fresh version stamp.
func (g *GlobalTable) Define(name string, v Value) {
	if slot, ok := g.index[name]; ok {
		g.slots[slot] = v
	} else {
		g.index[name] = len(g.slots)
		g.slots = append(g.slots, v)
		g.names = append(g.names, name)
	}
	g.version = tableStamp.Add(1)
}

// Lookup resolves a name to its value and slot. The slow path.
func (g *GlobalTable) Lookup(name string) (Value, int, bool) {
	slot, ok := g.index[name]
	if !ok {
		return Nil, -1, false
	}
	return g.slots[slot], slot, true
}

// SlotAt returns the value in a slot without any name lookup. The fast
// path; only valid while the version stamp that located the slot holds.
func (g *GlobalTable) SlotAt(slot int) Value {
	return g.slots[slot]
}
