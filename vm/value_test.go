package vm

import (
	"math"
	"testing"
)

func TestValueFloat(t *testing.T) {
	cases := []float64{0, 1.5, -3.25, math.MaxFloat64, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := MakeFloat(f)
		if !v.IsFloat() {
			t.Errorf("MakeFloat(%g) not recognized as float", f)
		}
		if v.IsSmallInt() || v.IsObject() || v.IsString() {
			t.Errorf("MakeFloat(%g) has a non-float tag", f)
		}
		if v.AsFloat() != f {
			t.Errorf("MakeFloat(%g).AsFloat() = %g", f, v.AsFloat())
		}
	}
}

func TestValueNaNCanonicalized(t *testing.T) {
	v := MakeFloat(math.NaN())
	if !v.IsFloat() {
		t.Error("NaN should still be a float")
	}
	if !math.IsNaN(v.AsFloat()) {
		t.Error("canonical NaN should decode as NaN")
	}
	if v.IsSmallInt() || v.IsObject() || v.IsString() || v.IsBool() || v.IsNil() {
		t.Error("canonical NaN must not collide with tagged values")
	}
}

func TestValueSmallInt(t *testing.T) {
	cases := []int64{0, 1, -1, 42, MaxSmallInt, MinSmallInt}
	for _, i := range cases {
		v := MakeSmallInt(i)
		if !v.IsSmallInt() {
			t.Errorf("MakeSmallInt(%d) not recognized", i)
		}
		if v.IsFloat() {
			t.Errorf("MakeSmallInt(%d) claims to be a float", i)
		}
		if v.AsSmallInt() != i {
			t.Errorf("MakeSmallInt(%d).AsSmallInt() = %d", i, v.AsSmallInt())
		}
	}
}

func TestValueSpecials(t *testing.T) {
	if !Nil.IsNil() || Nil.IsBool() {
		t.Error("Nil misclassified")
	}
	if !True.IsBool() || !False.IsBool() {
		t.Error("booleans misclassified")
	}
	if Nil.IsTruthy() || False.IsTruthy() {
		t.Error("nil and false must be falsy")
	}
	if !True.IsTruthy() || !MakeSmallInt(0).IsTruthy() || !MakeFloat(0).IsTruthy() {
		t.Error("true and numbers must be truthy")
	}
}

func TestValueIndexed(t *testing.T) {
	obj := MakeObject(123)
	if !obj.IsObject() || obj.AsIndex() != 123 {
		t.Errorf("object round trip failed: %s", obj)
	}
	s := MakeString(7)
	if !s.IsString() || s.AsIndex() != 7 {
		t.Errorf("string round trip failed: %s", s)
	}
	if obj == s {
		t.Error("object and string tags must differ")
	}
}

func TestHeapIntern(t *testing.T) {
	h := NewHeap()
	a := h.Intern("hello")
	b := h.Intern("hello")
	if a != b {
		t.Error("interning the same string twice should return the same value")
	}
	if h.StringAt(a) != "hello" {
		t.Errorf("StringAt = %q", h.StringAt(a))
	}
	c := h.Intern("world")
	if a == c {
		t.Error("different strings must intern differently")
	}
}

func TestHeapObjects(t *testing.T) {
	h := NewHeap()
	shape := h.NewShape("x", "y")
	v := h.NewObject(shape, MakeSmallInt(1))
	obj := h.Object(v)
	if obj == nil {
		t.Fatal("Object returned nil")
	}
	if obj.Fields[0] != MakeSmallInt(1) {
		t.Errorf("field x = %s", obj.Fields[0])
	}
	if obj.Fields[1] != Nil {
		t.Errorf("missing field should default to nil, got %s", obj.Fields[1])
	}
	if shape.OffsetOf("y") != 1 || shape.OffsetOf("z") != -1 {
		t.Error("shape offsets wrong")
	}
}

func TestShapeTableExhaustion(t *testing.T) {
	h := NewHeap()
	for i := 0; i <= maxShapeID; i++ {
		s := h.NewShape()
		if int(s.ID) != i {
			t.Fatalf("shape %d got ID %d", i, s.ID)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("NewShape past the 16-bit ID space must panic")
		}
	}()
	h.NewShape()
}

func TestGlobalTableStampsDistinctAcrossTables(t *testing.T) {
	a := NewGlobalTable()
	b := NewGlobalTable()
	if a.Version() == b.Version() {
		t.Fatal("fresh tables must not share a version stamp")
	}

	// Matching define sequences must still never converge on one stamp.
	for i := 0; i < 4; i++ {
		a.Define("x", MakeSmallInt(int64(i)))
		b.Define("x", MakeSmallInt(int64(i)))
		if a.Version() == b.Version() {
			t.Fatalf("define %d: tables converged on stamp %d", i, a.Version())
		}
	}
}

func TestGlobalTableVersioning(t *testing.T) {
	g := NewGlobalTable()
	v0 := g.Version()
	if v0 == 0 {
		t.Fatal("version 0 is reserved")
	}

	g.Define("x", MakeSmallInt(10))
	if g.Version() == v0 {
		t.Error("Define must bump the version")
	}

	v1 := g.Version()
	g.Define("x", MakeSmallInt(11))
	if g.Version() == v1 {
		t.Error("redefining must bump the version")
	}

	val, slot, ok := g.Lookup("x")
	if !ok || val != MakeSmallInt(11) {
		t.Errorf("Lookup x = %s, ok=%v", val, ok)
	}
	if g.SlotAt(slot) != MakeSmallInt(11) {
		t.Error("SlotAt disagrees with Lookup")
	}

	if _, _, ok := g.Lookup("missing"); ok {
		t.Error("Lookup of undefined name should fail")
	}
}
