package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// NumberArrayTypeID is the wire typeid for NumberArrayMeta.
const NumberArrayTypeID = "malcolm:core/NumberArrayMeta:1.0"

// NumberArrayMeta validates a homogeneous sequence of numbers, each
// coerced to dtype the same way NumberMeta coerces a scalar.
type NumberArrayMeta struct {
	base
	DType DType
}

// NewNumberArrayMeta returns a NumberArrayMeta with the given
// description and element dtype.
func NewNumberArrayMeta(description string, dtype DType) *NumberArrayMeta {
	if !dtype.Valid() {
		dtype = Float64
	}
	return &NumberArrayMeta{base{description: description}, dtype}
}

func (m *NumberArrayMeta) TypeID() string { return NumberArrayTypeID }

// Validate accepts nil, a []float64, or a []any of numbers. Elements
// that are nil or that lose information on coercion are rejected,
// mirroring vmetas/numberarraymeta.py's np.isclose check applied
// element-by-element.
func (m *NumberArrayMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case []float64:
		raw = make([]any, len(v))
		for i, x := range v {
			raw[i] = x
		}
	case []int:
		raw = make([]any, len(v))
		for i, x := range v {
			raw[i] = x
		}
	default:
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("expected array, got %T", value)}
	}

	out := make([]any, len(raw))
	for i, elem := range raw {
		if elem == nil {
			return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: "array elements cannot be null"}
		}
		f, ok := toFloat64(elem)
		if !ok {
			return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("element %d is not a number: %v", i, elem)}
		}
		if min, max, hasBounds := m.DType.Bounds(); hasBounds && (f < min || f > max) {
			return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("element %d (%v) out of range for %s", i, elem, m.DType)}
		}
		canonical, asFloat := castToDType(f, m.DType)
		if !approxEqual(f, asFloat) {
			return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("lost information converting element %d (%v) to %s", i, elem, m.DType)}
		}
		out[i] = canonical
	}
	return out, nil
}

func (m *NumberArrayMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	d.Set("dtype", string(m.DType))
	return d, nil
}

func init() {
	serializable.Register(NumberArrayTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		dtype, _ := d.Get("dtype")
		ds, _ := desc.(string)
		dts, _ := dtype.(string)
		return NewNumberArrayMeta(ds, DType(dts)), nil
	})
}
