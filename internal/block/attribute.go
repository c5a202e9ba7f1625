package block

import (
	"fmt"
	"sync"

	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/serializable"
)

// AttributeTypeID is the wire typeid for a serialized Attribute.
const AttributeTypeID = "epics:nt/NTAttribute:1.0"

// PutFunc handles an external write to an Attribute (a Put request).
// It receives the already-validated value and returns the value to
// report back to the caller (usually the same value).
type PutFunc func(value any) (any, error)

// Attribute is a typed, observable field of a Block: {meta, value},
// with an optional put_function for externally-writable attributes
// (spec.md §3).
type Attribute struct {
	Meta meta.Meta

	mu      sync.Mutex
	value   any
	putFunc PutFunc

	block *Block
	name  string
}

// NewAttribute returns an Attribute described by m, initially holding
// value without validating it (callers that need validation should use
// SetValue after construction, or rely on block.AddChild + an explicit
// SetValue call).
func NewAttribute(m meta.Meta, value any) *Attribute {
	return &Attribute{Meta: m, value: value}
}

// SetPutFunc installs the function invoked when an external Put targets
// this attribute. A nil put func makes the attribute read-only: Put
// requests against it fail with a "read-only" error.
func (a *Attribute) SetPutFunc(f PutFunc) { a.putFunc = f }

// Value returns the attribute's current value.
func (a *Attribute) Value() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// SetValue validates value against the attribute's Meta, stores the
// canonical result, and — if the attribute is attached to a Block —
// reports the mutation to the owning Process. notify controls whether
// a BlockNotify immediately follows the BlockChanged (spec.md §4.5);
// callers performing several related mutations in one transaction
// should pass false for all but (conceptually) the last, then call the
// owning Block's Notify once.
func (a *Attribute) SetValue(value any, notify bool) (any, error) {
	validated, err := a.Meta.Validate(value)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.value = validated
	a.mu.Unlock()
	if a.block != nil {
		a.block.emitChange([]string{a.name}, validated, false, notify)
	}
	return validated, nil
}

// Put invokes the attribute's put function with an already-validated
// value, mirroring spec.md §4.4's Put dispatch ("call its
// put_function"). If no put function is installed, Put fails.
func (a *Attribute) Put(value any) (any, error) {
	validated, err := a.Meta.Validate(value)
	if err != nil {
		return nil, err
	}
	if a.putFunc == nil {
		return nil, fmt.Errorf("attribute %q is read-only", a.name)
	}
	return a.putFunc(validated)
}

func (a *Attribute) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", AttributeTypeID)
	d.Set("value", a.Value())
	md, err := serializable.ToDict(a.Meta)
	if err != nil {
		return nil, fmt.Errorf("attribute %q meta: %w", a.name, err)
	}
	d.Set("meta", md)
	return d, nil
}
