package vm

import (
	"fmt"
	"math"
)

// Value represents a runtime value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-float values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Float: Native IEEE 754 double (if not a NaN, it's a float)
//   - SmallInt: Quiet NaN + tagInt + 48-bit signed payload
//   - Object: Quiet NaN + tagObject + heap object index
//   - String: Quiet NaN + tagString + interned string index
//   - Special: Quiet NaN + tagSpecial + special value ID (nil/true/false)
//
// The tag bits are the only facts a specialization guard ever needs to
// test about a value, which is why a guard is a single mask-and-compare.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for index/int/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagObject  uint64 = 0x0001000000000000 // Heap object index
	tagInt     uint64 = 0x0002000000000000 // 48-bit signed integer
	tagSpecial uint64 = 0x0003000000000000 // nil, true, false
	tagString  uint64 = 0x0004000000000000 // Interned string index

	// Sign bit for 48-bit integer sign extension
	intSignBit uint64 = 0x0000800000000000

	// Mask for sign extension
	intSignExtend uint64 = 0xFFFF000000000000
)

// Special value payloads
const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// SmallInt range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat returns true if v represents a float64 value.
// A value is a float if it's not one of our tagged NaN values.
func (v Value) IsFloat() bool {
	bits := uint64(v)

	// Exponent not all 1s: a regular float.
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}

	// +Inf/-Inf are valid floats.
	mantissa := bits & 0x000FFFFFFFFFFFFF
	if mantissa == 0 {
		return true
	}

	// Signaling NaN: treat as float.
	if (bits & nanBits) != nanBits {
		return true
	}

	// Quiet NaN with no tag bits is a "real" NaN, still a float.
	return (bits & tagMask) == 0
}

// IsSmallInt returns true if v represents a small integer.
func (v Value) IsSmallInt() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagInt)
}

// IsObject returns true if v represents a heap object reference.
func (v Value) IsObject() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagObject)
}

// IsString returns true if v represents an interned string.
func (v Value) IsString() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagString)
}

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// MakeFloat creates a float value.
func MakeFloat(f float64) Value {
	if math.IsNaN(f) {
		// Canonicalize NaN so it can't collide with tagged values.
		return Value(nanBits)
	}
	return Value(math.Float64bits(f))
}

// MakeSmallInt creates a small integer value.
// The integer must fit in 48 bits; callers are expected to range-check.
func MakeSmallInt(i int64) Value {
	return Value(nanBits | tagInt | (uint64(i) & payloadMask))
}

// MakeBool creates a boolean value.
func MakeBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// MakeObject creates a heap object reference from an object index.
func MakeObject(index int) Value {
	return Value(nanBits | tagObject | (uint64(index) & payloadMask))
}

// MakeString creates an interned string reference from a string index.
func MakeString(index int) Value {
	return Value(nanBits | tagString | (uint64(index) & payloadMask))
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// AsFloat returns the float64 encoded in v.
func (v Value) AsFloat() float64 {
	return math.Float64frombits(uint64(v))
}

// AsSmallInt returns the sign-extended integer encoded in v.
func (v Value) AsSmallInt() int64 {
	payload := uint64(v) & payloadMask
	if payload&intSignBit != 0 {
		return int64(payload | intSignExtend)
	}
	return int64(payload)
}

// AsIndex returns the 48-bit payload as an index (objects and strings).
func (v Value) AsIndex() int {
	return int(uint64(v) & payloadMask)
}

// IsTruthy reports the truthiness used by conditional jumps:
// nil and false are falsy, everything else is truthy.
func (v Value) IsTruthy() bool {
	return v != Nil && v != False
}

// String returns a debug representation. Heap-dependent values print
// their index only; use Heap.FormatValue for a resolved form.
func (v Value) String() string {
	switch {
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsSmallInt():
		return fmt.Sprintf("%d", v.AsSmallInt())
	case v.IsFloat():
		return fmt.Sprintf("%g", v.AsFloat())
	case v.IsString():
		return fmt.Sprintf("str#%d", v.AsIndex())
	case v.IsObject():
		return fmt.Sprintf("obj#%d", v.AsIndex())
	default:
		return fmt.Sprintf("value(%016x)", uint64(v))
	}
}
