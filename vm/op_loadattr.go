package vm

import "fmt"

// LoadAttr family.
//
// The base kind resolves an attribute name through the receiver's shape.
// The specialized kind caches the shape identity and the field offset: a
// receiver with the same shape stores the field at the same offset, so
// the guard is one identity comparison and the load one indexed read.
// Shapes are immutable, so the guard only fails when a differently-shaped
// receiver flows through the site; the family reverts on deopt so a site
// that turns out to be polymorphic goes back to counting.
//
// Cache layout: [counter, shape, offset]

const (
	laCacheShape  = 1
	laCacheOffset = 2
	laCacheSize   = 3
)

func execLoadAttr(in *Interp, c *Code, site *Instruction) error {
	if int(site.Arg) >= len(c.Names) {
		return fmt.Errorf("vm: name index %d out of range", site.Arg)
	}
	name := c.Names[site.Arg]
	recv := in.top()
	obj := in.Heap.Object(recv)
	if obj == nil {
		return fmt.Errorf("vm: LOAD_ATTR on non-object %s", recv)
	}
	off := obj.Shape.OffsetOf(name)
	if off < 0 {
		return fmt.Errorf("vm: object has no attribute %q", name)
	}
	in.replaceTop(obj.Fields[off])
	return nil
}

// specializeLoadAttr caches (shape, offset) for the receiver currently on
// the stack. Non-objects and unknown attributes decline.
func specializeLoadAttr(in *Interp, c *Code, site *Instruction) (Opcode, bool) {
	if int(site.Arg) >= len(c.Names) {
		return 0, false
	}
	obj := in.Heap.Object(in.top())
	if obj == nil {
		return 0, false
	}
	off := obj.Shape.OffsetOf(c.Names[site.Arg])
	if off < 0 || off > 0xFFFF {
		return 0, false
	}
	site.cache[laCacheShape] = CacheEntry(obj.Shape.ID)
	site.cache[laCacheOffset] = CacheEntry(off)
	return OpLoadAttrSlot, true
}

func execLoadAttrSlot(in *Interp, c *Code, site *Instruction) error {
	cache := site.cache

	// Guard: receiver is an object with the cached shape. The object
	// fetched here is reused by the operation phase.
	obj := in.Heap.Object(in.top())
	if obj == nil || obj.Shape.ID != uint16(cache[laCacheShape]) {
		return in.deopt(c, site)
	}

	in.stats.inc(OpLoadAttrSlot, EventHit)
	in.replaceTop(obj.Fields[cache[laCacheOffset]])
	return nil
}

func loadAttrFamily() FamilyConfig {
	return FamilyConfig{
		Name: "load_attr",
		Base: KindSpec{Op: OpLoadAttr, Exec: execLoadAttr, CacheSize: laCacheSize},
		Variants: []KindSpec{
			{Op: OpLoadAttrSlot, Exec: execLoadAttrSlot, CacheSize: laCacheSize},
		},
		Specialize: specializeLoadAttr,
		Deopt:      DeoptRevert,
	}
}
