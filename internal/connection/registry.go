package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint/gateway/internal/ratelimit"
)

// Registry owns the bidirectional mapping between open transport handles and
// logical connection identities. All connection state is instance-owned:
// two registries never share anything.
type Registry struct {
	cfg       RegistryConfig
	lifecycle Lifecycle
	logger    *slog.Logger

	mu       sync.RWMutex
	byHandle map[Transport]*Conn
	byID     map[string]*Conn
}

// RegistryStats is a point-in-time snapshot of open connections.
type RegistryStats struct {
	Open      int
	WebSocket int
	HTTP      int
}

// NewRegistry creates an empty registry. lifecycle may be nil.
func NewRegistry(cfg RegistryConfig, lifecycle Lifecycle, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		lifecycle: lifecycle,
		logger:    logger,
		byHandle:  make(map[Transport]*Conn),
		byID:      make(map[string]*Conn),
	}
}

// Register creates the logical connection for an opened transport, installs
// both mappings, and fires the NewConnection notification.
func (r *Registry) Register(t Transport, protocol string, ips []string) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		Protocol:  protocol,
		IPs:       ips,
		CreatedAt: time.Now(),
		Transport: t,
	}
	c.Queue = NewQueue(t, r.cfg.WriteThreshold, r.cfg.MaxPending)
	if protocol == ProtocolWebSocket && r.cfg.RateLimit > 0 {
		c.Limiter = ratelimit.NewCounter(r.cfg.RateLimit)
	}

	r.mu.Lock()
	r.byHandle[t] = c
	r.byID[c.ID] = c
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		"conn_id", c.ID,
		"protocol", protocol,
		"remote_ip", c.RemoteIP())

	if r.lifecycle != nil {
		r.lifecycle.NewConnection(c)
	}
	return c
}

// LookupHandle resolves a transport handle to its connection. A false return
// means the connection already closed; callers treat that as a normal race,
// not an error.
func (r *Registry) LookupHandle(t Transport) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byHandle[t]
	return c, ok
}

// LookupID resolves a connection identity. Absence is a normal race.
func (r *Registry) LookupID(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Unregister removes both mappings and fires RemoveConnection. It is
// idempotent: only the call that actually removes the entry notifies, so a
// close racing a concurrent teardown notifies exactly once.
func (r *Registry) Unregister(t Transport) bool {
	r.mu.Lock()
	c, ok := r.byHandle[t]
	if ok {
		delete(r.byHandle, t)
		delete(r.byID, c.ID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Debug("connection unregistered", "conn_id", c.ID, "protocol", c.Protocol)

	if r.lifecycle != nil {
		r.lifecycle.RemoveConnection(c)
	}
	return true
}

// Conns returns a snapshot of all open connections.
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Stats returns connection counts by protocol.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := RegistryStats{Open: len(r.byID)}
	for _, c := range r.byID {
		switch c.Protocol {
		case ProtocolWebSocket:
			s.WebSocket++
		case ProtocolHTTP:
			s.HTTP++
		}
	}
	return s
}
