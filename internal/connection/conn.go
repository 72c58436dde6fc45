package connection

import (
	"sync"
	"time"

	"github.com/relaypoint/gateway/internal/ratelimit"
)

// Conn is one logical client connection over either protocol.
//
// Conns are created and destroyed exclusively by a Registry. All fields are
// set at registration and read-only afterwards; mutable per-connection state
// lives behind Queue and Limiter.
type Conn struct {
	// ID is the unique identity of this connection, stable for its
	// lifetime and never reused while the connection is open.
	ID string

	// Protocol is ProtocolWebSocket or ProtocolHTTP.
	Protocol string

	// IPs is the ordered client address chain: the direct peer first,
	// then any forwarded hops.
	IPs []string

	// CreatedAt is when the transport opened (WebSocket) or the request
	// arrived (HTTP).
	CreatedAt time.Time

	// Transport is the handle this connection was registered under.
	Transport Transport

	// Queue applies the backpressure policy to outbound frames.
	Queue *Queue

	// Limiter counts inbound messages per tick. Nil when rate limiting
	// is disabled or the protocol is HTTP.
	Limiter *ratelimit.Counter

	closeOnce sync.Once
}

// ForceClose tears the transport down exactly once no matter how many
// callers race to it, and reports whether this call was the one that did.
func (c *Conn) ForceClose(code int, reason string) bool {
	ran := false
	c.closeOnce.Do(func() {
		ran = true
		c.Transport.Close(code, reason)
	})
	return ran
}

// RemoteIP returns the direct peer address, or "" when unknown.
func (c *Conn) RemoteIP() string {
	if len(c.IPs) == 0 {
		return ""
	}
	return c.IPs[0]
}

// Age returns how long the connection has been open.
func (c *Conn) Age() time.Duration {
	return time.Since(c.CreatedAt)
}
