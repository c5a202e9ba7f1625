package process_test

import (
	"testing"
	"time"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/request"
	"github.com/blockmesh/process/internal/serializable"
)

func recv(t *testing.T, ch chan request.Response) request.Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func expectNoResponse(t *testing.T, ch chan request.Response) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("expected no response, got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestS1CoalescedUpdate mirrors scenario S1: two writes to the same
// attribute inside one notify round collapse into a single Update
// reflecting only the final value.
func TestS1CoalescedUpdate(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b := block.New("b")
	attr := block.NewAttribute(meta.NewStringMeta(""), "v")
	b.AddChild("attr", attr)
	b.AddChild("attr2", block.NewAttribute(meta.NewStringMeta(""), "o"))
	p.AddBlock("b", b)

	_, respChan := p.Subscribe([]string{"b"}, false)
	initial := recv(t, respChan)
	upd, ok := initial.(*request.Update)
	if !ok {
		t.Fatalf("initial response is %T, want *Update", initial)
	}
	om := upd.Value.(*serializable.OrderedMap)
	assertStringAttr(t, om, "attr", "v")
	assertStringAttr(t, om, "attr2", "o")

	attr.SetValue("x", false)
	attr.SetValue("y", false)
	b.Notify()

	second := recv(t, respChan)
	upd2, ok := second.(*request.Update)
	if !ok {
		t.Fatalf("second response is %T, want *Update", second)
	}
	om2 := upd2.Value.(*serializable.OrderedMap)
	assertStringAttr(t, om2, "attr", "y")
	assertStringAttr(t, om2, "attr2", "o")
}

// TestS2DeltaHistoryPreserved mirrors scenario S2: a delta subscription
// sees every intermediate write, in order, rather than a collapsed
// snapshot.
func TestS2DeltaHistoryPreserved(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b := block.New("b")
	attr := block.NewAttribute(meta.NewStringMeta(""), "v")
	b.AddChild("attr", attr)
	b.AddChild("attr2", block.NewAttribute(meta.NewStringMeta(""), "o"))
	p.AddBlock("b", b)

	_, respChan := p.Subscribe([]string{"b"}, true)
	initial := recv(t, respChan).(*request.Delta)
	if len(initial.Changes) != 1 || len(initial.Changes[0].Path) != 0 {
		t.Fatalf("initial delta = %+v, want one change at []", initial.Changes)
	}

	attr.SetValue("x", false)
	attr.SetValue("y", false)
	b.Notify()

	second := recv(t, respChan).(*request.Delta)
	if len(second.Changes) != 2 {
		t.Fatalf("expected 2 preserved changes, got %d: %+v", len(second.Changes), second.Changes)
	}
	if second.Changes[0].Value != "x" || second.Changes[1].Value != "y" {
		t.Fatalf("unexpected change order: %+v", second.Changes)
	}
	if second.Changes[0].Path[0] != "attr" {
		t.Fatalf("unexpected stripped path: %+v", second.Changes[0].Path)
	}
}

// TestS3EndpointFiltering mirrors scenario S3: a delta subscription
// scoped to a nested endpoint ignores unrelated blocks and unrelated
// attributes on the same block.
func TestS3EndpointFiltering(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b1 := block.New("b1")
	b1Attr := block.NewAttribute(meta.NewStringMeta(""), "v")
	b1.AddChild("attr", b1Attr)
	inner := block.New("inner")
	innerAttr2 := block.NewAttribute(meta.NewStringMeta(""), "v")
	inner.AddChild("attr2", innerAttr2)
	b1.AddChild("inner", inner)
	p.AddBlock("b1", b1)

	b2 := block.New("b2")
	b2Attr := block.NewAttribute(meta.NewStringMeta(""), "v")
	b2.AddChild("attr", b2Attr)
	p.AddBlock("b2", b2)

	_, respChan := p.Subscribe([]string{"b1", "inner"}, true)
	recv(t, respChan) // initial snapshot

	innerAttr2.SetValue("n", false)
	b1Attr.SetValue("n", false)
	b1.Notify()

	b2Attr.SetValue("m", false)
	b2.Notify()

	resp := recv(t, respChan).(*request.Delta)
	if len(resp.Changes) != 1 || resp.Changes[0].Path[0] != "attr2" || resp.Changes[0].Value != "n" {
		t.Fatalf("unexpected filtered changes: %+v", resp.Changes)
	}
	expectNoResponse(t, respChan)
}

// TestS5InitialSnapshotThenChange mirrors scenario S5.
func TestS5InitialSnapshotThenChange(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b := block.New("b")
	a := block.NewAttribute(meta.NewNumberMeta("", meta.Int32), float64(1))
	b.AddChild("a", a)
	p.AddBlock("b", b)

	_, respChan := p.Subscribe([]string{"b"}, true)
	initial := recv(t, respChan).(*request.Delta)
	if len(initial.Changes) != 1 || len(initial.Changes[0].Path) != 0 {
		t.Fatalf("initial delta = %+v", initial.Changes)
	}

	a.SetValue(float64(2), true)
	second := recv(t, respChan).(*request.Delta)
	if len(second.Changes) != 1 || second.Changes[0].Path[0] != "a" {
		t.Fatalf("unexpected second delta: %+v", second.Changes)
	}
}

// TestS6Deletion mirrors scenario S6.
func TestS6Deletion(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b := block.New("b")
	b.AddChild("x", block.NewAttribute(meta.NewStringMeta(""), "v"))
	p.AddBlock("b", b)

	_, updateChan := p.Subscribe([]string{"b"}, false)
	recv(t, updateChan)
	_, deltaChan := p.Subscribe([]string{"b"}, true)
	recv(t, deltaChan)

	if err := b.Update(block.Change{Path: []string{"x"}, Delete: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	b.Notify()

	upd := recv(t, updateChan).(*request.Update)
	om := upd.Value.(*serializable.OrderedMap)
	if _, ok := om.Get("x"); ok {
		t.Fatal("expected x absent from update snapshot")
	}

	delta := recv(t, deltaChan).(*request.Delta)
	if len(delta.Changes) != 1 || !delta.Changes[0].Deleted || delta.Changes[0].Path[0] != "x" {
		t.Fatalf("unexpected delta: %+v", delta.Changes)
	}
}

func TestGetResolvesNestedEndpoint(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b := block.New("myblock")
	inner := block.New("path_1")
	path2 := block.New("path_2")
	path2.AddChild("attr", block.NewAttribute(meta.NewStringMeta(""), "value"))
	inner.AddChild("path_2", path2)
	b.AddChild("path_1", inner)
	p.AddBlock("myblock", b)

	val, err := p.Get([]string{"myblock", "path_1", "path_2"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	om := val.(*serializable.OrderedMap)
	attrDict, _ := om.Get("attr")
	attrOM := attrDict.(*serializable.OrderedMap)
	v, _ := attrOM.Get("value")
	if v != "value" {
		t.Fatalf("attr value = %v, want value", v)
	}
}

func TestPutThroughProcess(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	b := block.New("myblock")
	attr := block.NewAttribute(meta.NewStringMeta(""), "orig")
	attr.SetPutFunc(func(v any) (any, error) { return v, nil })
	b.AddChild("foo", attr)
	p.AddBlock("myblock", b)

	out, err := p.Put([]string{"myblock", "foo"}, "new")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if out != "new" {
		t.Fatalf("Put = %v, want new", out)
	}
}

func TestBlockAddRegistersInProcessBlocks(t *testing.T) {
	p := process.New("proc", nil)
	p.Start()
	defer p.Stop()

	p.AddBlock("myblock", block.New("myblock"))

	// Give the loop a chance to drain the BlockAdd event before reading.
	time.Sleep(20 * time.Millisecond)
	val, err := p.Get([]string{"proc", "blocks"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	om := val.(*serializable.OrderedMap)
	valsRaw, _ := om.Get("value")
	vals := valsRaw.([]string)
	found := false
	for _, v := range vals {
		if v == "myblock" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected myblock in process blocks list, got %v", vals)
	}
}

func assertStringAttr(t *testing.T, om *serializable.OrderedMap, name, want string) {
	t.Helper()
	raw, ok := om.Get(name)
	if !ok {
		t.Fatalf("missing key %q", name)
	}
	attrOM, ok := raw.(*serializable.OrderedMap)
	if !ok {
		t.Fatalf("%q is not an attribute dict: %T", name, raw)
	}
	v, _ := attrOM.Get("value")
	if v != want {
		t.Fatalf("%q = %v, want %v", name, v, want)
	}
}
