package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// StringArrayTypeID is the wire typeid for StringArrayMeta.
const StringArrayTypeID = "malcolm:core/StringArrayMeta:1.0"

// StringArrayMeta validates a sequence of strings. Grounds the
// process_block.blocks / remoteBlocks attributes (spec.md §3, §4.4).
type StringArrayMeta struct {
	base
}

// NewStringArrayMeta returns a StringArrayMeta with the given description.
func NewStringArrayMeta(description string) *StringArrayMeta {
	return &StringArrayMeta{base{description: description}}
}

func (m *StringArrayMeta) TypeID() string { return StringArrayTypeID }

// Validate accepts nil or a sequence, casting every non-nil element to
// a string; a nil element is rejected.
func (m *StringArrayMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	default:
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("expected array, got %T", value)}
	}

	out := make([]string, len(raw))
	for i, elem := range raw {
		if elem == nil {
			return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: "array elements cannot be null"}
		}
		if s, ok := elem.(string); ok {
			out[i] = s
			continue
		}
		out[i] = fmt.Sprintf("%v", elem)
	}
	return out, nil
}

func (m *StringArrayMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	return d, nil
}

func init() {
	serializable.Register(StringArrayTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		ds, _ := desc.(string)
		return NewStringArrayMeta(ds), nil
	})
}
