// Package meta implements the typed Meta model: descriptors of a
// value's shape and the validation rule that normalizes or rejects a
// candidate value. Every concrete Meta variant is a Serializable
// registered under its wire typeid.
package meta

import (
	"fmt"
	"strconv"

	"github.com/blockmesh/process/internal/serializable"
)

// Meta describes a value's type and validates candidate values against
// it. Validate must be pure, idempotent, and total: it either returns
// the canonical form of value or a *ValidationError.
type Meta interface {
	serializable.Serializable
	// Validate normalizes value or rejects it. Calling Validate on the
	// result of a previous Validate call must return the same value
	// unchanged (idempotence).
	Validate(value any) (any, error)
	// Description returns the human-readable description supplied at
	// construction.
	Description() string
}

// ValidationError reports a value rejected by a Meta's Validate.
type ValidationError struct {
	TypeID string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: rejected value %v: %s", e.TypeID, e.Value, e.Reason)
}

// DType names the numeric storage width for NumberMeta and
// NumberArrayMeta, mirroring pymalcolm's dtype strings.
type DType string

// Supported numeric widths, matching spec.md §3's NumberMeta(dtype) set.
const (
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Bounds reports the representable [min, max] range for an integer
// dtype, used to reject values the width cannot hold before the
// approximate-equality check even runs. Float dtypes return (0,0,false).
func (d DType) Bounds() (min, max float64, ok bool) {
	switch d {
	case Int8:
		return -128, 127, true
	case Int16:
		return -32768, 32767, true
	case Int32:
		return -2147483648, 2147483647, true
	case Int64:
		return -9223372036854775808, 9223372036854775807, true
	case Uint8:
		return 0, 255, true
	case Uint16:
		return 0, 65535, true
	case Uint32:
		return 0, 4294967295, true
	case Uint64:
		return 0, 18446744073709551615, true
	default:
		return 0, 0, false
	}
}

// Valid reports whether d is one of the known dtype strings.
func (d DType) Valid() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64:
		return true
	default:
		return false
	}
}

// base holds fields common to every Meta variant.
type base struct {
	description string
}

// Description returns the descriptor's human-readable text.
func (b base) Description() string { return b.description }

// toFloat64 converts a decoded JSON-ish numeric value (float64, int,
// int64, json.Number-free plain numbers, or a numeric string) to
// float64. It is the Go substitute for the flexible numeric coercion
// pymalcolm gets for free from numpy/Python's duck typing.
func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// approxEqual reports whether a and b are close enough that casting a
// to a narrower representation did not lose information, mirroring
// numpy.isclose's default tolerances (rtol=1e-5, atol=1e-8).
func approxEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	absA, absB := a, b
	if absA < 0 {
		absA = -absA
	}
	if absB < 0 {
		absB = -absB
	}
	tol := 1e-8 + 1e-5*absB
	_ = absA
	return diff <= tol
}

// castToDType converts f to the target dtype with a plain Go conversion
// (integer types truncate toward zero; out-of-range values are not
// clamped, so callers check Bounds first), returning the canonical
// any-typed value and the float64 view of it used for the lossy-coercion
// check.
func castToDType(f float64, d DType) (canonical any, asFloat float64) {
	switch d {
	case Int8:
		v := int8(f)
		return v, float64(v)
	case Int16:
		v := int16(f)
		return v, float64(v)
	case Int32:
		v := int32(f)
		return v, float64(v)
	case Int64:
		v := int64(f)
		return v, float64(v)
	case Uint8:
		v := uint8(f)
		return v, float64(v)
	case Uint16:
		v := uint16(f)
		return v, float64(v)
	case Uint32:
		v := uint32(f)
		return v, float64(v)
	case Uint64:
		v := uint64(f)
		return v, float64(v)
	case Float32:
		v := float32(f)
		return v, float64(v)
	default: // Float64
		return f, f
	}
}
