package clientproxy_test

import (
	"context"
	"testing"
	"time"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/clientproxy"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/serializable"
)

func newHelloBlock() (*block.Block, *block.Attribute) {
	b := block.New("hello")
	greeting := block.NewAttribute(meta.NewStringMeta("last greeting"), "")
	b.AddChild("greeting", greeting)

	takes := meta.NewMapMeta("", meta.MapElement{Name: "name", Meta: meta.NewStringMeta(""), Required: true})
	returns := meta.NewMapMeta("", meta.MapElement{Name: "greeting", Meta: meta.NewStringMeta(""), Required: true})
	greet := block.NewMethod(takes, returns, func(params *serializable.OrderedMap) (*serializable.OrderedMap, error) {
		name, _ := params.Get("name")
		text := "hello " + name.(string)
		greeting.SetValue(text, true)
		out := serializable.NewOrderedMap()
		out.Set("greeting", text)
		return out, nil
	})
	b.AddChild("greet", greet)
	return b, greeting
}

// TestS4RemoteMethodForwarding mirrors scenario S4: a local Post to a
// mirrored remote method's endpoint round-trips through the remote
// Process and returns its Return value.
func TestS4RemoteMethodForwarding(t *testing.T) {
	remote := process.New("remote", nil)
	remote.Start()
	defer remote.Stop()
	helloBlock, _ := newHelloBlock()
	remote.AddBlock("hello", helloBlock)

	local := process.New("local", nil)
	local.Start()
	defer local.Stop()
	local.RegisterClientComms("remote", remote)
	local.UpdateBlockList("remote", []string{"hello"})

	ctrl := clientproxy.NewController(local, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirrored, err := ctrl.Mirror(ctx, "hello")
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	waitForMirrorChild(t, mirrored, "greet")

	params := serializable.NewOrderedMap()
	params.Set("name", "world")
	out, err := local.Post([]string{"hello", "greet"}, params)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	om, ok := out.(*serializable.OrderedMap)
	if !ok {
		t.Fatalf("Post result is %T, want *serializable.OrderedMap", out)
	}
	greeting, _ := om.Get("greeting")
	if greeting != "hello world" {
		t.Fatalf("greeting = %v, want 'hello world'", greeting)
	}
}

// TestMirrorAppliesNonRootDelta verifies a non-root remote delta (an
// attribute change, not a structural rebuild) is applied verbatim via
// ApplyRemote rather than triggering a root rebuild.
func TestMirrorAppliesNonRootDelta(t *testing.T) {
	remote := process.New("remote", nil)
	remote.Start()
	defer remote.Stop()
	helloBlock, greetingAttr := newHelloBlock()
	remote.AddBlock("hello", helloBlock)

	local := process.New("local", nil)
	local.Start()
	defer local.Stop()
	local.RegisterClientComms("remote", remote)
	local.UpdateBlockList("remote", []string{"hello"})

	ctrl := clientproxy.NewController(local, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirrored, err := ctrl.Mirror(ctx, "hello")
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	waitForMirrorChild(t, mirrored, "greeting")

	if _, err := greetingAttr.SetValue("updated", true); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		val, err := local.Get([]string{"hello", "greeting", "value"})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if val == "updated" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("greeting value = %v, want updated", val)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestMirrorWaitsForRemoteBlocksDiscovery verifies Mirror blocks until
// the local process's remoteBlocks attribute lists the target block
// (the remoteBlocks-gated discovery protocol of spec.md §4.6), rather
// than assuming a ClientComms is already known for it.
func TestMirrorWaitsForRemoteBlocksDiscovery(t *testing.T) {
	remote := process.New("remote", nil)
	remote.Start()
	defer remote.Stop()
	helloBlock, _ := newHelloBlock()
	remote.AddBlock("hello", helloBlock)

	local := process.New("local", nil)
	local.Start()
	defer local.Stop()
	local.RegisterClientComms("remote", remote)

	ctrl := clientproxy.NewController(local, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirrorDone := make(chan error, 1)
	var mirrored *block.Block
	go func() {
		m, err := ctrl.Mirror(ctx, "hello")
		mirrored = m
		mirrorDone <- err
	}()

	select {
	case <-mirrorDone:
		t.Fatal("Mirror returned before remoteBlocks listed the block")
	case <-time.After(50 * time.Millisecond):
	}

	local.UpdateBlockList("remote", []string{"hello"})

	select {
	case err := <-mirrorDone:
		if err != nil {
			t.Fatalf("Mirror: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Mirror to discover the block")
	}
	waitForMirrorChild(t, mirrored, "greet")
}

func waitForMirrorChild(t *testing.T, b *block.Block, name string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		d, err := b.ToDict()
		if err == nil {
			if _, ok := d.Get(name); ok {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for mirrored block to populate")
}
