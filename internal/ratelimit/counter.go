package ratelimit

// Counter tracks messages within the current clock tick for one connection.
//
// It is not safe for concurrent use: each connection's read path owns its
// counter, so no locking is needed on the hot path.
type Counter struct {
	limit int
	tick  int64
	count int
}

// NewCounter returns a counter allowing limit messages per tick.
// A limit below 1 disables limiting entirely.
func NewCounter(limit int) *Counter {
	return &Counter{limit: limit}
}

// Allow records one message at tick and reports whether it is within the
// limit. The first message of a new tick resets the count to 1.
func (c *Counter) Allow(tick int64) bool {
	if c.limit < 1 {
		return true
	}
	if tick != c.tick {
		c.tick = tick
		c.count = 1
	} else {
		c.count++
	}
	return c.count <= c.limit
}

// Limit returns the configured per-tick limit.
func (c *Counter) Limit() int {
	return c.limit
}
