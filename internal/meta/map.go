package meta

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// MapTypeID is the wire typeid for MapMeta.
const MapTypeID = "malcolm:core/MapMeta:1.0"

// MapElement is one named, typed, optionally-required slot in a MapMeta
// — the Go equivalent of pymalcolm's @takes-decorated parameter list.
type MapElement struct {
	Name     string
	Meta     Meta
	Required bool
}

// MapMeta validates an ordered set of named elements — used for a
// Method's Takes and Returns maps (spec.md §3).
type MapMeta struct {
	base
	Elements []MapElement
}

// NewMapMeta returns a MapMeta built from elements, preserving their
// order for to_dict and for determinstic iteration.
func NewMapMeta(description string, elements ...MapElement) *MapMeta {
	return &MapMeta{base{description: description}, elements}
}

func (m *MapMeta) TypeID() string { return MapTypeID }

func (m *MapMeta) element(name string) (MapElement, bool) {
	for _, e := range m.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return MapElement{}, false
}

// Validate accepts a *serializable.OrderedMap or map[string]any of
// candidate values. Every required element must be present and pass
// its own Meta's Validate; unknown keys are rejected (spec.md §4.2).
// The result is an *serializable.OrderedMap with keys in Elements
// order, containing only the keys that were supplied or are required.
func (m *MapMeta) Validate(value any) (any, error) {
	var input map[string]any
	switch v := value.(type) {
	case nil:
		input = map[string]any{}
	case *serializable.OrderedMap:
		input = v.ToMap()
	case map[string]any:
		input = v
	default:
		return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("expected a map, got %T", value)}
	}

	allowed := make(map[string]struct{}, len(m.Elements))
	for _, e := range m.Elements {
		allowed[e.Name] = struct{}{}
	}
	for k := range input {
		if _, ok := allowed[k]; !ok {
			return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("unexpected key %q", k)}
		}
	}

	out := serializable.NewOrderedMap()
	for _, e := range m.Elements {
		raw, present := input[e.Name]
		if !present {
			if e.Required {
				return nil, &ValidationError{TypeID: m.TypeID(), Value: value, Reason: fmt.Sprintf("missing required element %q", e.Name)}
			}
			continue
		}
		validated, err := e.Meta.Validate(raw)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", e.Name, err)
		}
		out.Set(e.Name, validated)
	}
	return out, nil
}

func (m *MapMeta) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", m.TypeID())
	d.Set("description", m.description)

	elems := serializable.NewOrderedMap()
	var required []any
	for _, e := range m.Elements {
		ed, err := serializable.ToDict(e.Meta)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", e.Name, err)
		}
		elems.Set(e.Name, ed)
		if e.Required {
			required = append(required, e.Name)
		}
	}
	d.Set("elements", elems)
	d.Set("required", required)
	return d, nil
}

func init() {
	serializable.Register(MapTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		desc, _ := d.Get("description")
		ds, _ := desc.(string)

		required := map[string]struct{}{}
		if raw, ok := d.Get("required"); ok {
			if arr, ok := raw.([]any); ok {
				for _, r := range arr {
					if s, ok := r.(string); ok {
						required[s] = struct{}{}
					}
				}
			}
		}

		var elements []MapElement
		if raw, ok := d.Get("elements"); ok {
			if om, ok := raw.(*serializable.OrderedMap); ok {
				for _, name := range om.Keys() {
					ev, _ := om.Get(name)
					edict, ok := ev.(*serializable.OrderedMap)
					if !ok {
						return nil, &serializable.DeserializationError{TypeID: MapTypeID, Reason: fmt.Sprintf("element %q is not an object", name)}
					}
					elemMeta, err := serializable.FromDict(edict)
					if err != nil {
						return nil, err
					}
					asMeta, ok := elemMeta.(Meta)
					if !ok {
						return nil, &serializable.DeserializationError{TypeID: MapTypeID, Reason: fmt.Sprintf("element %q is not a Meta", name)}
					}
					_, req := required[name]
					elements = append(elements, MapElement{Name: name, Meta: asMeta, Required: req})
				}
			}
		}
		return NewMapMeta(ds, elements...), nil
	})
}
