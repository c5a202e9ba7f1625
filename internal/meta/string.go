package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// StringTypeID is the wire typeid for StringMeta.
const StringTypeID = "malcolm:core/String:1.0"

// StringMeta validates that a value is nil or castable to a string.
type StringMeta struct {
	base
}

// NewStringMeta returns a StringMeta with the given description.
func NewStringMeta(description string) *StringMeta {
	return &StringMeta{base{description: description}}
}

func (m *StringMeta) TypeID() string { return StringTypeID }

// Validate returns nil unchanged; otherwise casts value to its string
// representation, matching pymalcolm's StringMeta.validate.
func (m *StringMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (m *StringMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	return d, nil
}

func init() {
	serializable.Register(StringTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		s, _ := desc.(string)
		return NewStringMeta(s), nil
	})
}
