package block

import (
	"fmt"

	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/serializable"
)

// MethodTypeID is the wire typeid for a serialized Method.
const MethodTypeID = "malcolm:core/Method:1.0"

// MethodFunc performs a method invocation given its validated parameter
// map, returning the (unvalidated) returns map.
type MethodFunc func(params *serializable.OrderedMap) (*serializable.OrderedMap, error)

// Method is a typed callable exposed by a Block: {takes, returns,
// function}. Invocation validates the input map, runs function, and
// validates the returns map (spec.md §3). A client-proxied Block
// replaces Func with a remote-forwarding shim (spec.md §4.6) — Method
// itself has no notion of "local" vs "remote".
type Method struct {
	Takes   *meta.MapMeta
	Returns *meta.MapMeta
	Func    MethodFunc

	block *Block
	name  string
}

// NewMethod returns a Method described by takes/returns and backed by fn.
func NewMethod(takes, returns *meta.MapMeta, fn MethodFunc) *Method {
	return &Method{Takes: takes, Returns: returns, Func: fn}
}

// SetFunc replaces the method's implementation — used by the client
// proxy to install a remote-forwarding shim over a regenerated Method.
func (m *Method) SetFunc(fn MethodFunc) { m.Func = fn }

// Invoke validates params against Takes, runs the method, and validates
// the result against Returns.
func (m *Method) Invoke(params *serializable.OrderedMap) (*serializable.OrderedMap, error) {
	validatedIn, err := m.Takes.Validate(params)
	if err != nil {
		return nil, &MethodError{Block: m.blockName(), Method: m.name, Reason: err.Error()}
	}
	in, _ := validatedIn.(*serializable.OrderedMap)

	if m.Func == nil {
		return nil, &MethodError{Block: m.blockName(), Method: m.name, Reason: "no implementation installed"}
	}
	out, err := m.Func(in)
	if err != nil {
		return nil, &MethodError{Block: m.blockName(), Method: m.name, Reason: err.Error()}
	}

	validatedOut, err := m.Returns.Validate(out)
	if err != nil {
		return nil, &MethodError{Block: m.blockName(), Method: m.name, Reason: err.Error()}
	}
	result, _ := validatedOut.(*serializable.OrderedMap)
	return result, nil
}

func (m *Method) blockName() string {
	if m.block == nil {
		return ""
	}
	return m.block.Name
}

func (m *Method) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", MethodTypeID)
	td, err := serializable.ToDict(m.Takes)
	if err != nil {
		return nil, fmt.Errorf("method %q takes: %w", m.name, err)
	}
	d.Set("takes", td)
	rd, err := serializable.ToDict(m.Returns)
	if err != nil {
		return nil, fmt.Errorf("method %q returns: %w", m.name, err)
	}
	d.Set("returns", rd)
	return d, nil
}
