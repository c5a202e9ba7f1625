package serializable

import (
	"fmt"
	"sync"
)

// Serializable is any value that can round-trip through an OrderedMap
// tagged with a typeid. Concrete Meta, Request, and Response variants
// implement this.
type Serializable interface {
	// TypeID returns the versioned wire tag for this variant, e.g.
	// "malcolm:core/String:1.0".
	TypeID() string
	// ToDict returns the wire representation of the value, with
	// "typeid" as its first key.
	ToDict() (*OrderedMap, error)
}

// Factory reconstructs a concrete Serializable from its wire dict. The
// dict's "typeid" key has already been validated against the tag the
// factory was registered under.
type Factory func(d *OrderedMap) (Serializable, error)

// DeserializationError reports a malformed or unrecognized wire dict.
type DeserializationError struct {
	TypeID string
	Reason string
}

func (e *DeserializationError) Error() string {
	if e.TypeID == "" {
		return fmt.Sprintf("deserialization error: %s", e.Reason)
	}
	return fmt.Sprintf("deserialization error for typeid %q: %s", e.TypeID, e.Reason)
}

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register attaches factory to typeid. Intended to be called from an
// init() in the package defining the concrete type, mirroring
// pymalcolm's @Serializable.register(typeid) class decorator.
// Re-registering the same typeid overwrites the previous factory, which
// is useful for tests that install fakes.
func Register(typeid string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typeid] = factory
}

// FromDict reconstructs the concrete variant named by d["typeid"]. It
// fails with a *DeserializationError if the key is missing or
// unregistered.
func FromDict(d *OrderedMap) (Serializable, error) {
	raw, ok := d.Get("typeid")
	if !ok {
		return nil, &DeserializationError{Reason: "missing \"typeid\" field"}
	}
	typeid, ok := raw.(string)
	if !ok {
		return nil, &DeserializationError{Reason: fmt.Sprintf("\"typeid\" field is not a string: %v", raw)}
	}

	mu.RLock()
	factory, ok := factories[typeid]
	mu.RUnlock()
	if !ok {
		return nil, &DeserializationError{TypeID: typeid, Reason: "no factory registered for this typeid"}
	}

	v, err := factory(d)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", typeid, err)
	}
	return v, nil
}

// ToDict returns v's wire representation with "typeid" set as the first
// key, calling v.ToDict() and ensuring the tag is present.
func ToDict(v Serializable) (*OrderedMap, error) {
	d, err := v.ToDict()
	if err != nil {
		return nil, err
	}
	if _, ok := d.Get("typeid"); !ok {
		// Defensive: every concrete ToDict is expected to set this
		// itself (it must be the first key), but guard against a
		// variant that forgot.
		fixed := NewOrderedMap()
		fixed.Set("typeid", v.TypeID())
		for _, k := range d.Keys() {
			val, _ := d.Get(k)
			fixed.Set(k, val)
		}
		return fixed, nil
	}
	return d, nil
}

// Registered reports whether typeid has a factory.
func Registered(typeid string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[typeid]
	return ok
}
