// Command relay is a minimal frame-relay server: publishers send
// length-prefixed frames on a named channel, and every subscriber of that
// channel receives a copy. It exists to exercise vbuf's Pool, Queue, and
// sizedpool.Registry end to end under real concurrent I/O, not as a
// protocol of its own.
package main

import (
	"flag"
	"log/slog"
	"time"
)

func main() {
	cfg := DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.IntVar(&cfg.PoolTierCount, "pool-tier-count", cfg.PoolTierCount, "buffers pre-built per pool size tier")
	flag.IntVar(&cfg.SubscriberQueueSize, "subscriber-queue-size", cfg.SubscriberQueueSize, "max frames queued per subscriber before the oldest is dropped")
	publishTimeoutMs := flag.Int("publish-timeout-ms", int(cfg.PublishTimeout/time.Millisecond), "max time a publisher waits for a free pool buffer")
	flag.Parse()

	cfg.PublishTimeout = time.Duration(*publishTimeoutMs) * time.Millisecond

	server, err := NewServer(cfg)
	if err != nil {
		slog.Error("failed to build relay server", "error", err)
		return
	}
	defer server.pool.Destroy()

	server.Run()
}
