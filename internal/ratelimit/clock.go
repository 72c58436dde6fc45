package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock samples the wall clock into an atomic tick roughly once per second.
// Counters compare message arrivals against the sampled tick, so the message
// hot path never reads the system clock itself.
type Clock struct {
	tick     atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

// NewClock returns a clock seeded with the current second.
func NewClock() *Clock {
	c := &Clock{done: make(chan struct{})}
	c.tick.Store(time.Now().Unix())
	return c
}

// Start launches the sampling goroutine. It returns immediately.
func (c *Clock) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Clock) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case now := <-ticker.C:
			c.tick.Store(now.Unix())
		}
	}
}

// Stop halts sampling. Safe to call more than once.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// Tick returns the most recently sampled second.
func (c *Clock) Tick() int64 {
	return c.tick.Load()
}
