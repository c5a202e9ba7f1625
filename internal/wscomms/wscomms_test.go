package wscomms_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/wscomms"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func startServer(t *testing.T, proc *process.Process) string {
	t.Helper()
	addr := freeAddr(t)
	sc := wscomms.NewServerComms(proc, addr, nil, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- sc.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sc.Shutdown(ctx)
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start listening in time")
	return ""
}

// TestClientGetRoundTrip verifies a one-shot Get over the wire returns
// the remote block's snapshot.
func TestClientGetRoundTrip(t *testing.T) {
	proc := process.New("remote", nil)
	proc.Start()
	defer proc.Stop()

	b := block.New("counter")
	b.AddChild("count", block.NewAttribute(meta.NewNumberMeta("", meta.Int32), 0))
	proc.AddBlock("counter", b)

	addr := startServer(t, proc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	local := process.New("local", nil)
	local.Start()
	defer local.Stop()
	client, err := wscomms.Dial(ctx, local, "remote", fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	v, err := client.Get([]string{"counter", "count", "value"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != float64(0) && v != int32(0) && v != 0 {
		t.Fatalf("count value = %v (%T), want 0", v, v)
	}
}

// TestClientSubscribeReceivesDelta verifies a wire Subscribe yields an
// initial response and that a remote mutation then produces a further
// response.
func TestClientSubscribeReceivesDelta(t *testing.T) {
	proc := process.New("remote", nil)
	proc.Start()
	defer proc.Stop()

	countAttr := block.NewAttribute(meta.NewNumberMeta("", meta.Int32), 0)
	b := block.New("counter")
	b.AddChild("count", countAttr)
	proc.AddBlock("counter", b)

	addr := startServer(t, proc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	local := process.New("local", nil)
	local.Start()
	defer local.Stop()
	client, err := wscomms.Dial(ctx, local, "remote", fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	id, respChan := client.Subscribe([]string{"counter"}, true)
	defer client.Unsubscribe(id)

	select {
	case resp := <-respChan:
		if resp == nil {
			t.Fatal("nil initial response")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial subscribe response")
	}

	if _, err := countAttr.SetValue(int32(1), true); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			t.Fatal("nil delta response")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta after mutation")
	}
}
