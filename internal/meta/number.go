package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// NumberTypeID is the wire typeid for NumberMeta.
const NumberTypeID = "malcolm:core/Number:1.0"

// NumberMeta validates that a value coerces losslessly to its
// configured numeric width.
type NumberMeta struct {
	base
	DType DType
}

// NewNumberMeta returns a NumberMeta with the given description and
// dtype. An invalid dtype defaults to Float64.
func NewNumberMeta(description string, dtype DType) *NumberMeta {
	if !dtype.Valid() {
		dtype = Float64
	}
	return &NumberMeta{base{description: description}, dtype}
}

func (m *NumberMeta) TypeID() string { return NumberTypeID }

// Validate coerces value to m.DType, rejecting nil-pass-through aside,
// any coercion that does not compare approximately equal to the input
// (spec.md §4.2: "reject lossy coercions").
func (m *NumberMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	f, ok := toFloat64(value)
	if !ok {
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("not a number: %T", value)}
	}
	if min, max, hasBounds := m.DType.Bounds(); hasBounds && (f < min || f > max) {
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("%v out of range for %s", value, m.DType)}
	}
	canonical, asFloat := castToDType(f, m.DType)
	if !approxEqual(f, asFloat) {
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("lost information converting %v to %s", value, m.DType)}
	}
	return canonical, nil
}

func (m *NumberMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	d.Set("dtype", string(m.DType))
	return d, nil
}

func init() {
	serializable.Register(NumberTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		dtype, _ := d.Get("dtype")
		ds, _ := desc.(string)
		dts, _ := dtype.(string)
		return NewNumberMeta(ds, DType(dts)), nil
	})
}
