package mqttcomms

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestConfigTopics(t *testing.T) {
	cfg := Config{Prefix: "blockmesh/proc1"}
	if got, want := cfg.requestTopic(), "blockmesh/proc1/request"; got != want {
		t.Errorf("requestTopic() = %q, want %q", got, want)
	}
	if got, want := cfg.responseTopic(), "blockmesh/proc1/response"; got != want {
		t.Errorf("responseTopic() = %q, want %q", got, want)
	}
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	r := newRateLimiter(3, time.Minute, slog.Default())
	for i := 0; i < 3; i++ {
		if !r.allow() {
			t.Fatalf("allow() #%d = false, want true", i)
		}
	}
}

func TestRateLimiterDropsOverLimit(t *testing.T) {
	r := newRateLimiter(2, time.Minute, slog.Default())
	r.allow()
	r.allow()
	if r.allow() {
		t.Fatal("third allow() = true, want false once over limit")
	}
	if r.dropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1", r.dropped.Load())
	}
}

func TestRateLimiterResetsOnInterval(t *testing.T) {
	r := newRateLimiter(1, 20*time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.start(ctx)

	if !r.allow() {
		t.Fatal("first allow() = false, want true")
	}
	if r.allow() {
		t.Fatal("second allow() before reset = true, want false")
	}

	time.Sleep(60 * time.Millisecond)
	if !r.allow() {
		t.Fatal("allow() after reset = false, want true")
	}
}
