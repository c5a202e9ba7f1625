package mqttcomms

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// rateLimiter guards the inbound side of the shared request/response
// topics against a runaway publisher: the subscription engine itself
// has no rate limiting (spec.md's Non-goals), but the transport does,
// mirroring the teacher's messageRateLimiter.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{limit: limit, interval: interval, logger: logger}
}

// start runs the periodic counter reset loop until ctx is cancelled.
func (r *rateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqttcomms messages dropped due to rate limit",
					"received", count, "dropped", dropped,
					"interval", r.interval.String(), "limit", r.limit)
			}
		}
	}
}

// allow increments the message counter and reports whether the current
// count is within the configured limit.
func (r *rateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
