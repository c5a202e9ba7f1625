package meta

import (
	"fmt"
	"slices"

	"github.com/blockmesh/process/internal/serializable"
)

// ChoiceTypeID is the wire typeid for ChoiceMeta.
const ChoiceTypeID = "malcolm:core/Choice:1.0"

// ChoiceMeta validates that a value is nil or one of a fixed set of
// string choices.
type ChoiceMeta struct {
	base
	Choices []string
}

// NewChoiceMeta returns a ChoiceMeta restricting values to choices.
func NewChoiceMeta(description string, choices []string) *ChoiceMeta {
	return &ChoiceMeta{base{description: description}, choices}
}

func (m *ChoiceMeta) TypeID() string { return ChoiceTypeID }

func (m *ChoiceMeta) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("expected string choice, got %T", value)}
	}
	if !slices.Contains(m.Choices, s) {
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("%q is not one of %v", s, m.Choices)}
	}
	return s, nil
}

func (m *ChoiceMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)
	choices := make([]any, len(m.Choices))
	for i, c := range m.Choices {
		choices[i] = c
	}
	d.Set("choices", choices)
	return d, nil
}

func init() {
	serializable.Register(ChoiceTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		ds, _ := desc.(string)
		var choices []string
		if raw, ok := d.Get("choices"); ok {
			if arr, ok := raw.([]any); ok {
				for _, c := range arr {
					if s, ok := c.(string); ok {
						choices = append(choices, s)
					}
				}
			}
		}
		return NewChoiceMeta(ds, choices), nil
	})
}
