// Package blockdevice provides reference Block implementations used as
// both working examples and exercised test subjects for the process
// engine: Counter, Hello, and ScanPointTicker.
package blockdevice

import (
	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/serializable"
)

// NewCounter builds a Block named name exposing a uint32 counter
// attribute with increment and reset methods, grounded on
// countercontroller.py's CounterController.
func NewCounter(name string) *block.Block {
	b := block.New(name)

	counter := block.NewAttribute(meta.NewNumberMeta("A counter", meta.Uint32), uint32(0))
	counter.SetPutFunc(func(value any) (any, error) {
		return counter.SetValue(value, true)
	})
	b.AddChild("counter", counter)

	empty := meta.NewMapMeta("")
	b.AddChild("increment", block.NewMethod(empty, empty, func(*serializable.OrderedMap) (*serializable.OrderedMap, error) {
		n, _ := counter.Value().(uint32)
		if _, err := counter.SetValue(n+1, true); err != nil {
			return nil, err
		}
		return serializable.NewOrderedMap(), nil
	}))
	b.AddChild("reset", block.NewMethod(empty, empty, func(*serializable.OrderedMap) (*serializable.OrderedMap, error) {
		if _, err := counter.SetValue(uint32(0), true); err != nil {
			return nil, err
		}
		return serializable.NewOrderedMap(), nil
	}))

	return b
}
