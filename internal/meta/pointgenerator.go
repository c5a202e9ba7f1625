package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// PointGeneratorTypeID is the wire typeid for PointGeneratorMeta.
const PointGeneratorTypeID = "malcolm:core/PointGeneratorMeta:1.0"

// Point is one position in a scan, keyed by axis name — the Go
// equivalent of a pymalcolm CompoundGenerator point's .positions dict.
type Point struct {
	Positions map[string]float64
}

// PointGenerator is a compound generator: an ordered list of Points to
// visit, grounded on original_source's CompoundGenerator used by
// ScanPointTickerController (tests/test_controllers/
// test_scanpointtickercontroller.py).
type PointGenerator struct {
	Points []Point
}

// Iterator returns the generator's points in visiting order.
func (g *PointGenerator) Iterator() []Point {
	if g == nil {
		return nil
	}
	return g.Points
}

// PointGeneratorMeta validates that a value is nil or a *PointGenerator.
type PointGeneratorMeta struct {
	base
}

// NewPointGeneratorMeta returns a PointGeneratorMeta with the given
// description.
func NewPointGeneratorMeta(description string) *PointGeneratorMeta {
	return &PointGeneratorMeta{base{description: description}}
}

func (m *PointGeneratorMeta) TypeID() string { return PointGeneratorTypeID }

func (m *PointGeneratorMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	g, ok := value.(*PointGenerator)
	if !ok {
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("expected *PointGenerator, got %T", value)}
	}
	return g, nil
}

func (m *PointGeneratorMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	return d, nil
}

func init() {
	serializable.Register(PointGeneratorTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		ds, _ := desc.(string)
		return NewPointGeneratorMeta(ds), nil
	})
}
