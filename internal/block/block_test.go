package block_test

import (
	"testing"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/serializable"
)

type fakeNotifier struct {
	changes []block.Change
}

func (f *fakeNotifier) OnChanged(change block.Change, notify bool) {
	f.changes = append(f.changes, change)
}

func TestToDictSnapshotsOrderedChildren(t *testing.T) {
	b := block.New("myblock")
	b.AddChild("attr", block.NewAttribute(meta.NewStringMeta("a string"), "v"))
	b.AddChild("attr2", block.NewAttribute(meta.NewStringMeta("another string"), "o"))

	d, err := b.ToDict()
	if err != nil {
		t.Fatalf("ToDict: %v", err)
	}
	if got := d.Keys(); len(got) != 2 || got[0] != "attr" || got[1] != "attr2" {
		t.Fatalf("unexpected key order: %v", got)
	}
	attrDict, _ := d.Get("attr")
	om := attrDict.(*serializable.OrderedMap)
	v, _ := om.Get("value")
	if v != "v" {
		t.Fatalf("attr value = %v, want v", v)
	}
}

func TestPutInvokesPutFunc(t *testing.T) {
	b := block.New("myblock")
	attr := block.NewAttribute(meta.NewStringMeta(""), "orig")
	attr.SetPutFunc(func(v any) (any, error) { return attr.SetValue(v, false) })
	b.AddChild("foo", attr)

	out, err := b.Put([]string{"foo"}, "new")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if out != "new" {
		t.Fatalf("Put returned %v, want new", out)
	}
	if attr.Value() != "new" {
		t.Fatalf("attribute value = %v, want new", attr.Value())
	}
}

func TestPutReadOnlyFails(t *testing.T) {
	b := block.New("myblock")
	b.AddChild("foo", block.NewAttribute(meta.NewStringMeta(""), "orig"))
	if _, err := b.Put([]string{"foo"}, "new"); err == nil {
		t.Fatal("expected error putting to a read-only attribute")
	}
}

func TestPostInvokesMethod(t *testing.T) {
	b := block.New("myblock")
	takes := meta.NewMapMeta("", meta.MapElement{Name: "name", Meta: meta.NewStringMeta(""), Required: true})
	returns := meta.NewMapMeta("", meta.MapElement{Name: "greeting", Meta: meta.NewStringMeta(""), Required: true})
	m := block.NewMethod(takes, returns, func(params *serializable.OrderedMap) (*serializable.OrderedMap, error) {
		name, _ := params.Get("name")
		out := serializable.NewOrderedMap()
		out.Set("greeting", "hello "+name.(string))
		return out, nil
	})
	b.AddChild("greet", m)

	params := serializable.NewOrderedMap()
	params.Set("name", "x")
	out, err := b.Post([]string{"greet"}, params)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	greeting, _ := out.Get("greeting")
	if greeting != "hello x" {
		t.Fatalf("greeting = %v, want 'hello x'", greeting)
	}
}

func TestSetValueEmitsChangeWithNotifierPath(t *testing.T) {
	n := &fakeNotifier{}
	b := block.New("b")
	b.SetProcess(n)
	attr := block.NewAttribute(meta.NewStringMeta(""), "v")
	b.AddChild("attr", attr)

	if _, err := attr.SetValue("x", true); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if len(n.changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(n.changes))
	}
	c := n.changes[0]
	if len(c.Path) != 2 || c.Path[0] != "b" || c.Path[1] != "attr" || c.Value != "x" {
		t.Fatalf("unexpected change: %+v", c)
	}
}

// TestCompositeChangeBubblesToRoot mirrors the "inner" nested-block
// subscription fixture: b1 = {attr: v, inner: {attr2: v}}, and a change
// to inner.attr2 must be reported to the process as a path rooted at
// b1, not at inner.
func TestCompositeChangeBubblesToRoot(t *testing.T) {
	n := &fakeNotifier{}
	root := block.New("b1")
	root.SetProcess(n)
	root.AddChild("attr", block.NewAttribute(meta.NewStringMeta(""), "v"))

	inner := block.New("inner")
	innerAttr := block.NewAttribute(meta.NewStringMeta(""), "v")
	inner.AddChild("attr2", innerAttr)
	root.AddChild("inner", inner)

	if _, err := innerAttr.SetValue("n", false); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if len(n.changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(n.changes))
	}
	c := n.changes[0]
	if len(c.Path) != 3 || c.Path[0] != "b1" || c.Path[1] != "inner" || c.Path[2] != "attr2" {
		t.Fatalf("unexpected change path: %v", c.Path)
	}

	d, err := root.ToDict()
	if err != nil {
		t.Fatalf("ToDict: %v", err)
	}
	innerDict, _ := d.Get("inner")
	om := innerDict.(*serializable.OrderedMap)
	attr2Dict, _ := om.Get("attr2")
	attrOM := attr2Dict.(*serializable.OrderedMap)
	v, _ := attrOM.Get("value")
	if v != "n" {
		t.Fatalf("inner.attr2 value = %v, want n", v)
	}
}

func TestResolveDescendsIntoNestedBlock(t *testing.T) {
	root := block.New("b1")
	inner := block.New("inner")
	inner.AddChild("attr2", block.NewAttribute(meta.NewStringMeta(""), "v"))
	root.AddChild("inner", inner)

	val, err := root.Resolve([]string{"inner", "attr2", "value"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if val != "v" {
		t.Fatalf("Resolve = %v, want v", val)
	}
}

func TestUpdateDeletion(t *testing.T) {
	n := &fakeNotifier{}
	b := block.New("b")
	b.SetProcess(n)
	b.AddChild("x", block.NewAttribute(meta.NewStringMeta(""), "v"))

	if err := b.Update(block.Change{Path: []string{"x"}, Delete: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d, _ := b.ToDict()
	if _, ok := d.Get("x"); ok {
		t.Fatal("expected x to be deleted")
	}
	if len(n.changes) != 1 || !n.changes[0].Delete {
		t.Fatalf("expected a delete change to be emitted, got %+v", n.changes)
	}
}

func TestApplyRemoteSkipsValidation(t *testing.T) {
	b := block.New("b")
	b.AddChild("n", block.NewAttribute(meta.NewNumberMeta("", meta.Int32), float64(1)))

	// ApplyRemote stores the value verbatim without running meta.Validate,
	// since the remote end is authoritative (spec.md §4.6).
	if err := b.ApplyRemote(block.Change{Path: []string{"n"}, Value: "not-a-number"}); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	d, _ := b.ToDict()
	nDict, _ := d.Get("n")
	om := nDict.(*serializable.OrderedMap)
	v, _ := om.Get("value")
	if v != "not-a-number" {
		t.Fatalf("value = %v, want verbatim remote value", v)
	}
}

func TestReplaceChildrenEmitsRootChange(t *testing.T) {
	n := &fakeNotifier{}
	b := block.New("b")
	b.SetProcess(n)
	b.AddChild("old", block.NewAttribute(meta.NewStringMeta(""), "v"))

	fresh := serializable.NewOrderedMap()
	fresh.Set("new", block.NewAttribute(meta.NewStringMeta(""), "w"))
	if err := b.ReplaceChildren(fresh); err != nil {
		t.Fatalf("ReplaceChildren: %v", err)
	}

	d, _ := b.ToDict()
	if _, ok := d.Get("old"); ok {
		t.Fatal("old child should be gone")
	}
	if _, ok := d.Get("new"); !ok {
		t.Fatal("new child should be present")
	}
	if len(n.changes) != 1 || len(n.changes[0].Path) != 1 || n.changes[0].Path[0] != "b" {
		t.Fatalf("expected a single root-replace change, got %+v", n.changes)
	}
}
