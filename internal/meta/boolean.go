package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// BooleanTypeID is the wire typeid for BooleanMeta.
const BooleanTypeID = "malcolm:core/Boolean:1.0"

// BooleanMeta validates a value is nil or castable to bool.
type BooleanMeta struct {
	base
}

// NewBooleanMeta returns a BooleanMeta with the given description.
func NewBooleanMeta(description string) *BooleanMeta {
	return &BooleanMeta{base{description: description}}
}

func (m *BooleanMeta) TypeID() string { return BooleanTypeID }

func (m *BooleanMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true", "True", "1":
			return true, nil
		case "false", "False", "0":
			return false, nil
		}
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	}
	return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("cannot interpret %v as boolean", value)}
}

func (m *BooleanMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	return d, nil
}

func init() {
	serializable.Register(BooleanTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		ds, _ := desc.(string)
		return NewBooleanMeta(ds), nil
	})
}
