package blockdevice

import (
	"fmt"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/serializable"
)

// NewHello builds a Block named name exposing a greeting attribute and
// a greet method taking a name and returning a greeting string — the
// Block mirrored end-to-end by the client-proxy tests, grounded on
// test_gui/test_blockmodel.py's HelloController.
func NewHello(name string) *block.Block {
	b := block.New(name)

	greeting := block.NewAttribute(meta.NewStringMeta("Last greeting given"), "")
	b.AddChild("greeting", greeting)

	takes := meta.NewMapMeta("", meta.MapElement{Name: "name", Meta: meta.NewStringMeta("Who to greet"), Required: true})
	returns := meta.NewMapMeta("", meta.MapElement{Name: "greeting", Meta: meta.NewStringMeta("The greeting produced"), Required: true})
	greet := block.NewMethod(takes, returns, func(params *serializable.OrderedMap) (*serializable.OrderedMap, error) {
		who, _ := params.Get("name")
		text := fmt.Sprintf("hello %v", who)
		if _, err := greeting.SetValue(text, true); err != nil {
			return nil, err
		}
		out := serializable.NewOrderedMap()
		out.Set("greeting", text)
		return out, nil
	})
	b.AddChild("greet", greet)

	return b
}
