package vm

import (
	"fmt"
	"math/bits"
)

// BinaryOp family.
//
// The base kind dispatches on the operator argument and both operand
// tags. The specialized kinds are keyed to one (operator, tag pair)
// shape each; their guards are disjoint tag checks, so no variant can
// claim the other's operands. Variant selection order is part of the
// family contract: int pairs before float pairs before string pairs.
//
// Deopt policy: stay. A tag miss at an arithmetic site is usually a
// transient (one loop iteration feeding a float into an int site), so
// the variant is kept and the counter entry is repurposed as a miss
// budget — a documented exception to the default counter contract. When
// the budget runs out the site reverts to base with backoff.
//
// Cache layout: [counter]

const boCacheSize = 1

func execBinaryOp(in *Interp, c *Code, site *Instruction) error {
	right := in.peek(0)
	left := in.peek(1)
	result, err := binaryOpValue(in.Heap, BinOp(site.Arg), left, right)
	if err != nil {
		return err
	}
	in.replace2(result)
	return nil
}

// binaryOpValue is the generic semantics both the base executor and every
// fast path reduce to, which is what makes the differential tests exact.
func binaryOpValue(h *Heap, op BinOp, left, right Value) (Value, error) {
	switch op {
	case BinAdd:
		switch {
		case left.IsSmallInt() && right.IsSmallInt():
			return addInts(left.AsSmallInt(), right.AsSmallInt()), nil
		case left.IsString() && right.IsString():
			return h.Intern(h.StringAt(left) + h.StringAt(right)), nil
		}
		if lf, lok := numericValue(left); lok {
			if rf, rok := numericValue(right); rok {
				return MakeFloat(lf + rf), nil
			}
		}
	case BinSub:
		if left.IsSmallInt() && right.IsSmallInt() {
			return addInts(left.AsSmallInt(), -right.AsSmallInt()), nil
		}
		if lf, lok := numericValue(left); lok {
			if rf, rok := numericValue(right); rok {
				return MakeFloat(lf - rf), nil
			}
		}
	case BinMul:
		if left.IsSmallInt() && right.IsSmallInt() {
			return mulInts(left.AsSmallInt(), right.AsSmallInt()), nil
		}
		if lf, lok := numericValue(left); lok {
			if rf, rok := numericValue(right); rok {
				return MakeFloat(lf * rf), nil
			}
		}
	}
	return Nil, fmt.Errorf("vm: unsupported operands for %s: %s, %s", op, left, right)
}

// addInts adds two small ints, promoting to float when the sum leaves the
// 48-bit range.
func addInts(a, b int64) Value {
	sum := a + b
	if sum >= MinSmallInt && sum <= MaxSmallInt {
		return MakeSmallInt(sum)
	}
	return MakeFloat(float64(a) + float64(b))
}

// mulInts multiplies two small ints, promoting to float when the product
// could leave the 48-bit range. The width check is conservative: products
// nearing the small-int limit promote even when they would just fit.
func mulInts(a, b int64) Value {
	if a == 0 || b == 0 {
		return MakeSmallInt(0)
	}
	la := bits.Len64(uint64(abs64(a)))
	lb := bits.Len64(uint64(abs64(b)))
	if la+lb <= 47 {
		return MakeSmallInt(a * b)
	}
	return MakeFloat(float64(a) * float64(b))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// specializeBinaryOp picks the variant matching the operand tags, most
// specific first. Operator/tag combinations without a variant (every
// subtraction, mixed numeric pairs) decline.
func specializeBinaryOp(in *Interp, c *Code, site *Instruction) (Opcode, bool) {
	right := in.peek(0)
	left := in.peek(1)
	switch BinOp(site.Arg) {
	case BinAdd:
		switch {
		case left.IsSmallInt() && right.IsSmallInt():
			return OpBinaryAddInt, true
		case left.IsFloat() && right.IsFloat():
			return OpBinaryAddFloat, true
		case left.IsString() && right.IsString():
			return OpBinaryConcatStr, true
		}
	case BinMul:
		if left.IsSmallInt() && right.IsSmallInt() {
			return OpBinaryMulInt, true
		}
	}
	return 0, false
}

func execBinaryAddInt(in *Interp, c *Code, site *Instruction) error {
	right := in.peek(0)
	left := in.peek(1)
	if !left.IsSmallInt() || !right.IsSmallInt() {
		return in.deopt(c, site)
	}
	in.stats.inc(OpBinaryAddInt, EventHit)
	in.replace2(addInts(left.AsSmallInt(), right.AsSmallInt()))
	return nil
}

func execBinaryAddFloat(in *Interp, c *Code, site *Instruction) error {
	right := in.peek(0)
	left := in.peek(1)
	if !left.IsFloat() || !right.IsFloat() {
		return in.deopt(c, site)
	}
	in.stats.inc(OpBinaryAddFloat, EventHit)
	in.replace2(MakeFloat(left.AsFloat() + right.AsFloat()))
	return nil
}

func execBinaryConcatStr(in *Interp, c *Code, site *Instruction) error {
	right := in.peek(0)
	left := in.peek(1)
	if !left.IsString() || !right.IsString() {
		return in.deopt(c, site)
	}
	in.stats.inc(OpBinaryConcatStr, EventHit)
	in.replace2(in.Heap.Intern(in.Heap.StringAt(left) + in.Heap.StringAt(right)))
	return nil
}

func execBinaryMulInt(in *Interp, c *Code, site *Instruction) error {
	right := in.peek(0)
	left := in.peek(1)
	if !left.IsSmallInt() || !right.IsSmallInt() {
		return in.deopt(c, site)
	}
	in.stats.inc(OpBinaryMulInt, EventHit)
	in.replace2(mulInts(left.AsSmallInt(), right.AsSmallInt()))
	return nil
}

func binaryOpFamily() FamilyConfig {
	return FamilyConfig{
		Name: "binary_op",
		Base: KindSpec{Op: OpBinaryOp, Exec: execBinaryOp, CacheSize: boCacheSize},
		Variants: []KindSpec{
			{Op: OpBinaryAddInt, Exec: execBinaryAddInt, CacheSize: boCacheSize},
			{Op: OpBinaryAddFloat, Exec: execBinaryAddFloat, CacheSize: boCacheSize},
			{Op: OpBinaryConcatStr, Exec: execBinaryConcatStr, CacheSize: boCacheSize},
			{Op: OpBinaryMulInt, Exec: execBinaryMulInt, CacheSize: boCacheSize},
		},
		Specialize: specializeBinaryOp,
		Deopt:      DeoptStay,
	}
}
