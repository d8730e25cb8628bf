package vm

import (
	"testing"
)

// mixedProgram builds a program exercising every family: attribute loads,
// global loads and arithmetic inside a counted loop.
//
//	acc = 0
//	i = n
//	while i > 0 { acc = acc + o.step + g; i = i - 1 }
//	return acc
func mixedProgram(t *testing.T, reg *Registry) *Code {
	t.Helper()
	b := NewCodeBuilder()
	acc := 0
	i := 1
	b.Locals(2)

	b.Emit(OpLoadConst, b.Const(MakeSmallInt(0)))
	b.Emit(OpStoreFast, uint32(acc))
	b.Emit(OpLoadGlobal, b.Name("n"))
	b.Emit(OpStoreFast, uint32(i))

	top := b.Len()
	b.Emit(OpLoadFast, uint32(i))
	b.Emit(OpLoadConst, b.Const(MakeSmallInt(0)))
	b.Emit(OpCompareOp, uint32(CmpLe))
	exit := b.Emit(OpJumpIfFalse, 0)
	b.Emit(OpJump, 0)
	body := b.Len()
	b.SetArg(exit, uint32(body))

	b.Emit(OpLoadFast, uint32(acc))
	b.Emit(OpLoadGlobal, b.Name("o"))
	b.Emit(OpLoadAttr, b.Name("step"))
	b.Emit(OpBinaryOp, uint32(BinAdd))
	b.Emit(OpLoadGlobal, b.Name("g"))
	b.Emit(OpBinaryOp, uint32(BinAdd))
	b.Emit(OpStoreFast, uint32(acc))
	b.Emit(OpLoadFast, uint32(i))
	b.Emit(OpLoadConst, b.Const(MakeSmallInt(1)))
	b.Emit(OpBinaryOp, uint32(BinSub))
	b.Emit(OpStoreFast, uint32(i))
	b.Emit(OpJump, uint32(top))

	done := b.Len()
	b.SetArg(body-1, uint32(done))
	b.Emit(OpLoadFast, uint32(acc))
	b.Emit(OpReturn, 0)
	return buildAndQuicken(t, reg, b)
}

// seedWorld populates an interpreter's heap and globals for iteration n of
// the differential runs, cycling operand shapes so sites specialize, hit,
// miss and revert along the way.
func seedWorld(in *Interp, n int) {
	shapeA := in.Heap.NewShape("step")
	shapeB := in.Heap.NewShape("pad", "step")
	switch n % 3 {
	case 0:
		in.Globals.Define("o", in.Heap.NewObject(shapeA, MakeSmallInt(2)))
		in.Globals.Define("g", MakeSmallInt(1))
	case 1:
		in.Globals.Define("o", in.Heap.NewObject(shapeB, Nil, MakeFloat(0.5)))
		in.Globals.Define("g", MakeFloat(0.25))
	case 2:
		in.Globals.Define("o", in.Heap.NewObject(shapeA, MakeSmallInt(3)))
		in.Globals.Define("g", MakeSmallInt(4))
	}
	in.Globals.Define("n", MakeSmallInt(int64(3+n%5)))
}

// Results under specialization must be indistinguishable from base-only
// execution, over enough iterations to cover warmup, specialization,
// guard hits, guard misses and reverts for every family.
func TestSpecializationTransparency(t *testing.T) {
	regOn := newTestRegistry(t, func(r *Registry) {
		if err := r.Tune("binary_op", 2, 2); err != nil {
			t.Fatal(err)
		}
		if err := r.Tune("load_attr", 2, 0); err != nil {
			t.Fatal(err)
		}
		if err := r.Tune("load_global", 2, 0); err != nil {
			t.Fatal(err)
		}
	})
	regOff := newTestRegistry(t, nil)

	specialized := newTestInterp(t, regOn)
	baseline := newTestInterp(t, regOff, WithSpecializationDisabled())
	codeOn := mixedProgram(t, regOn)
	codeOff := mixedProgram(t, regOff)

	for n := 0; n < 50; n++ {
		seedWorld(specialized, n)
		seedWorld(baseline, n)
		got := mustRun(t, specialized, codeOn)
		want := mustRun(t, baseline, codeOff)
		if specialized.Heap.FormatValue(got) != baseline.Heap.FormatValue(want) {
			t.Fatalf("iteration %d: specialized = %s, base-only = %s",
				n, specialized.Heap.FormatValue(got), baseline.Heap.FormatValue(want))
		}
	}

	// The aggressive tuning must actually have exercised the machinery.
	totals := FamilyTotals(regOn, regOn.Stats().Snapshot())
	for _, fam := range regOn.FamilyNames() {
		if totals[fam][EventAttempt] == 0 {
			t.Errorf("family %s never attempted specialization", fam)
		}
	}
	if totals["load_attr"][EventMiss] == 0 {
		t.Error("shape cycling produced no attribute guard misses")
	}
}

// Disabled mode: counters never move, kinds never change, behavior is the
// plain generic semantics.
func TestSpecializationDisabled(t *testing.T) {
	reg := newTestRegistry(t, nil)
	in := newTestInterp(t, reg, WithSpecializationDisabled())
	in.Globals.Define("x", MakeSmallInt(7))
	c := loadGlobalCode(t, reg, "x")
	site := &c.Insns[0]

	for run := 0; run < 30; run++ {
		if got := mustRun(t, in, c); got != MakeSmallInt(7) {
			t.Fatalf("run %d = %s", run, got)
		}
	}
	if site.Kind() != OpLoadGlobal {
		t.Errorf("kind changed to %s with specialization disabled", site.Kind())
	}
	if got := loadCounter(site.Cache()).Value(); got != DefaultWarmup {
		t.Errorf("counter moved to %d with specialization disabled", got)
	}
	if rows := reg.Stats().Snapshot(); len(rows) != 0 {
		t.Errorf("recorded %d stat rows with specialization disabled", len(rows))
	}
}

// Guard soundness: for every operand pair a variant accepts, its fast
// path result must equal the generic result computed directly.
func TestVariantResultsMatchGeneric(t *testing.T) {
	reg := newTestRegistry(t, func(r *Registry) {
		if err := r.Tune("binary_op", 1, 0); err != nil {
			t.Fatal(err)
		}
	})

	cases := []struct {
		name string
		op   BinOp
		a, b Value
	}{
		{"small ints", BinAdd, MakeSmallInt(20), MakeSmallInt(22)},
		{"negatives", BinAdd, MakeSmallInt(-5), MakeSmallInt(3)},
		{"overflow to float", BinAdd, MakeSmallInt(MaxSmallInt), MakeSmallInt(1)},
		{"underflow to float", BinAdd, MakeSmallInt(MinSmallInt), MakeSmallInt(-1)},
		{"floats", BinAdd, MakeFloat(0.1), MakeFloat(0.2)},
		{"mul", BinMul, MakeSmallInt(1 << 20), MakeSmallInt(1 << 20)},
		{"mul overflow", BinMul, MakeSmallInt(1 << 30), MakeSmallInt(1 << 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := newTestInterp(t, reg)
			in.Globals.Define("a", tc.a)
			in.Globals.Define("b", tc.b)
			c := binaryGlobalsCode(t, reg, tc.op)

			want, err := binaryOpValue(in.Heap, tc.op, tc.a, tc.b)
			if err != nil {
				t.Fatalf("generic: %v", err)
			}
			mustRun(t, in, c) // warmup 1: specializes here
			got := mustRun(t, in, c)
			if got != want {
				t.Errorf("fast path = %s, generic = %s", got, want)
			}
		})
	}
}
