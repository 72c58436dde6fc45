package pubsub

import (
	"log/slog"
	"sync"
)

// DeliverFunc hands one frame to a local connection by identity. Delivering
// to a connection that already closed is the receiver's silent no-op.
type DeliverFunc func(connID string, frame []byte)

// Hub is the in-process channel membership table. It implements the
// publisher contract for a single gateway instance: a published frame fans
// out to every local subscriber of that channel.
type Hub struct {
	deliver DeliverFunc
	logger  *slog.Logger

	mu       sync.RWMutex
	channels map[string]map[string]struct{} // channel -> conn ids
	conns    map[string]map[string]struct{} // conn id -> channels
}

// NewHub creates an empty hub delivering through deliver.
func NewHub(deliver DeliverFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		deliver:  deliver,
		logger:   logger,
		channels: make(map[string]map[string]struct{}),
		conns:    make(map[string]map[string]struct{}),
	}
}

// Subscribe adds connID to channel. Duplicate subscribes are no-ops.
func (h *Hub) Subscribe(channel, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[connID] = struct{}{}

	joined, ok := h.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[connID] = joined
	}
	joined[channel] = struct{}{}
}

// Unsubscribe removes connID from channel, dropping the channel entry when
// its last member leaves.
func (h *Hub) Unsubscribe(channel, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMember(channel, connID)
	if joined, ok := h.conns[connID]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(h.conns, connID)
		}
	}
}

// DropConn removes connID from every channel. Wired to the connection
// removal notification so closed connections leave no memberships behind.
func (h *Hub) DropConn(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.conns[connID] {
		h.removeMember(channel, connID)
	}
	delete(h.conns, connID)
}

func (h *Hub) removeMember(channel, connID string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// Publish fans frame out to the channel's current subscribers. The member
// snapshot is taken under the read lock; delivery runs outside it so a slow
// connection never blocks membership changes.
func (h *Hub) Publish(channel string, frame []byte) error {
	h.mu.RLock()
	members := make([]string, 0, len(h.channels[channel]))
	for connID := range h.channels[channel] {
		members = append(members, connID)
	}
	h.mu.RUnlock()

	for _, connID := range members {
		h.deliver(connID, frame)
	}
	return nil
}

// Subscribers returns the member count of channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels returns the number of channels with at least one member.
func (h *Hub) Channels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
