package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzDispatchTransparency: throw arbitrary operand values and iteration
// counts at one binary site and check the specializing dispatcher against
// a base-only interpreter. Divergent results or panics are bugs; operand
// errors are acceptable as long as both sides agree on them.
// ---------------------------------------------------------------------------

func fuzzValue(sel uint8, bits uint64) Value {
	switch sel % 4 {
	case 0:
		i := int64(bits)
		if i > MaxSmallInt {
			i = MaxSmallInt
		}
		if i < MinSmallInt {
			i = MinSmallInt
		}
		return MakeSmallInt(i)
	case 1:
		f := math.Float64frombits(bits)
		if math.IsNaN(f) {
			f = 0
		}
		return MakeFloat(f)
	case 2:
		return MakeBool(bits&1 == 1)
	default:
		return Nil
	}
}

func FuzzDispatchTransparency(f *testing.F) {
	f.Add(uint8(0), uint64(1), uint8(0), uint64(2), uint8(0), uint8(20))
	f.Add(uint8(1), math.Float64bits(1.5), uint8(1), math.Float64bits(2.5), uint8(0), uint8(30))
	f.Add(uint8(0), uint64(3), uint8(1), math.Float64bits(0.5), uint8(2), uint8(25))
	f.Add(uint8(2), uint64(1), uint8(3), uint64(0), uint8(1), uint8(10))

	f.Fuzz(func(t *testing.T, aSel uint8, aBits uint64, bSel uint8, bBits uint64, opSel uint8, runs uint8) {
		regOn, err := NewDefaultRegistry()
		if err != nil {
			t.Fatal(err)
		}
		if err := regOn.Tune("binary_op", 1, 2); err != nil {
			t.Fatal(err)
		}
		regOn.Finalize()
		regOff, err := NewDefaultRegistry()
		if err != nil {
			t.Fatal(err)
		}
		regOff.Finalize()

		specialized, err := NewInterp(regOn, NewHeap(), NewGlobalTable())
		if err != nil {
			t.Fatal(err)
		}
		baseline, err := NewInterp(regOff, NewHeap(), NewGlobalTable(), WithSpecializationDisabled())
		if err != nil {
			t.Fatal(err)
		}

		op := BinOp(opSel % 3)
		seed := func(in *Interp, n int) {
			a := fuzzValue(aSel, aBits)
			b := fuzzValue(bSel, bBits)
			// Flip operand roles on odd iterations so guards keep
			// failing when the two differ in kind.
			if n%2 == 1 {
				a, b = b, a
			}
			in.Globals.Define("a", a)
			in.Globals.Define("b", b)
		}

		codeOn := binaryGlobalsCode(t, regOn, op)
		codeOff := binaryGlobalsCode(t, regOff, op)
		for n := 0; n < int(runs%64)+2; n++ {
			seed(specialized, n)
			seed(baseline, n)
			got, errOn := specialized.Run(codeOn)
			want, errOff := baseline.Run(codeOff)
			if (errOn == nil) != (errOff == nil) {
				t.Fatalf("iteration %d: error divergence: %v vs %v", n, errOn, errOff)
			}
			if errOn != nil {
				continue
			}
			if got != want {
				t.Fatalf("iteration %d: specialized = %s, base-only = %s", n, got, want)
			}
		}
	})
}
