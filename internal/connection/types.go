package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrClosed   = errors.New("connection closed")
	ErrOverflow = errors.New("outbound queue overflow")
)

// Protocol names attached to connections at registration.
const (
	ProtocolWebSocket = "websocket"
	ProtocolHTTP      = "http"
)

// OverflowDiagnostic is the fixed close reason used when a connection's
// pending queue exceeds its bound. Clients always see this exact text.
const OverflowDiagnostic = "outbound backpressure limit exceeded"

// Close codes per RFC 6455, carried by Transport.Close where the protocol
// has a close handshake.
const (
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// Backpressure defaults.
const (
	// DefaultWriteThreshold is the transport buffer level (bytes) above
	// which outbound frames queue instead of writing immediately.
	DefaultWriteThreshold = 4096

	// DefaultMaxPending is the queued-frame count whose excess overflows
	// the connection.
	DefaultMaxPending = 50
)

// Transport is the opaque handle to one open transport-layer connection.
// Implementations must be comparable; the registry keys on them.
type Transport interface {
	// Write enqueues one complete frame for transmission. Frames are
	// transmitted atomically and in Write order.
	Write(frame []byte) error

	// BufferedAmount reports bytes accepted by Write but not yet handed
	// to the operating system.
	BufferedAmount() int

	// Close tears down the transport, carrying code and reason where the
	// protocol supports a close handshake. Safe to call more than once.
	Close(code int, reason string) error

	// RemoteAddr is the peer address of the direct connection.
	RemoteAddr() string
}

// AccessRecord describes one completed HTTP exchange or WebSocket session.
type AccessRecord struct {
	ConnID   string
	Protocol string
	Method   string
	Path     string
	Status   int
	BytesIn  int64
	BytesOut int64
	Duration time.Duration
	RemoteIP string
	At       time.Time
}

// Lifecycle receives connection lifecycle notifications.
//
// NewConnection and RemoveConnection fire exactly once per connection, in
// that order, regardless of how the close was initiated. Implementations
// must not block: they run on connection goroutines.
type Lifecycle interface {
	NewConnection(c *Conn)
	RemoveConnection(c *Conn)
	LogAccess(rec AccessRecord)
}

// RegistryConfig configures the per-connection state created at Register.
type RegistryConfig struct {
	WriteThreshold int // bytes buffered on the transport before sends queue
	MaxPending     int // queued frames beyond which the connection overflows
	RateLimit      int // messages per tick for WebSocket connections, 0 disables
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		WriteThreshold: DefaultWriteThreshold,
		MaxPending:     DefaultMaxPending,
	}
}
