package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaypoint/gateway/internal/broadcast"
	"github.com/relaypoint/gateway/internal/connection"
)

// HandleOpen registers an upgraded WebSocket transport and returns its
// logical connection.
func (e *EntryPoint) HandleOpen(t connection.Transport, ips []string) *connection.Conn {
	c := e.registry.Register(t, connection.ProtocolWebSocket, ips)
	e.metrics.ConnOpened(connection.ProtocolWebSocket)
	return c
}

// HandleMessage processes one inbound text frame. The transport invokes it
// sequentially per connection, so the rate counter needs no locking.
func (e *EntryPoint) HandleMessage(c *connection.Conn, data []byte) {
	e.metrics.MessageIn()

	// Heartbeats are answered before anything else, including rate
	// limiting, and never reach execution.
	if isHeartbeat(data) {
		e.metrics.Heartbeat()
		e.send(c, heartbeatReply)
		return
	}

	if c.Limiter != nil && !c.Limiter.Allow(e.clock.Tick()) {
		e.metrics.RateLimited()
		e.sendError(c, requestIDOf(data), NewError(KindRateLimited, 0, "message rate limit exceeded"))
		return
	}

	if !json.Valid(data) {
		e.sendError(c, "", NewError(KindMalformed, http.StatusBadRequest, "message is not valid JSON"))
		return
	}

	msg := &SocketMessage{
		ConnID:     c.ID,
		Data:       data,
		RequestID:  requestIDOf(data),
		ReceivedAt: time.Now(),
	}
	connID := c.ID
	e.exec.Route(e.ctx, msg, func(req *Request, err error) {
		if err != nil {
			e.deliverSocketError(connID, msg.RequestID, err)
			return
		}
		e.exec.Execute(e.ctx, req, func(res *Result, err error) {
			if err != nil {
				e.deliverSocketError(connID, req.Room, err)
				return
			}
			e.deliverSocketResult(connID, req.Room, res)
		})
	})
}

// HandleDrain flushes a connection's pending queue after its transport
// signals renewed capacity.
func (e *EntryPoint) HandleDrain(t connection.Transport) {
	if c, ok := e.registry.LookupHandle(t); ok {
		c.Queue.Drain()
	}
}

// HandleClose finalizes a closed WebSocket transport: unregister, close
// accounting, access record. Racing callers settle on the registry; only
// the winner emits.
func (e *EntryPoint) HandleClose(t connection.Transport, path string, bytesIn, bytesOut int64) {
	c, ok := e.registry.LookupHandle(t)
	if !ok {
		return
	}
	if !e.registry.Unregister(t) {
		return
	}
	e.metrics.ConnClosed(c.Protocol)
	if e.lifecycle != nil {
		e.lifecycle.LogAccess(connection.AccessRecord{
			ConnID:   c.ID,
			Protocol: c.Protocol,
			Method:   http.MethodGet,
			Path:     path,
			Status:   http.StatusSwitchingProtocols,
			BytesIn:  bytesIn,
			BytesOut: bytesOut,
			Duration: c.Age(),
			RemoteIP: c.RemoteIP(),
			At:       time.Now(),
		})
	}
}

// deliverSocketResult hands an execution result back to the originating
// connection. The registry is consulted again at delivery time: execution
// may complete long after the connection closed, and that race is benign.
func (e *EntryPoint) deliverSocketResult(connID, room string, res *Result) {
	c, ok := e.registry.LookupID(connID)
	if !ok {
		e.logger.Debug("dropping result for closed connection", "conn_id", connID)
		return
	}

	e.applySubscriptions(connID, res)

	if len(res.Body) == 0 {
		return
	}
	frame := res.Body
	if room != "" {
		frames, err := broadcast.Frames(res.Body, []string{room})
		if err != nil {
			e.logger.Warn("result body not stampable, delivering as-is",
				"conn_id", connID, "error", err)
		} else {
			frame = frames[0]
		}
	}
	e.send(c, frame)
}

// deliverSocketError maps an execution failure to an error frame on the
// originating connection, re-validating it first.
func (e *EntryPoint) deliverSocketError(connID, room string, err error) {
	ge := AsError(err)
	if ge.Kind == KindInternal {
		e.logger.Error("request execution failed", "conn_id", connID, "error", err)
	}
	c, ok := e.registry.LookupID(connID)
	if !ok {
		return
	}
	e.sendError(c, room, ge)
}

// sendError delivers an error frame, stamped with the originating room when
// known. The connection stays open.
func (e *EntryPoint) sendError(c *connection.Conn, room string, ge *Error) {
	e.metrics.ErrorByKind(string(ge.Kind))
	body := encodeError(ge)
	if room != "" {
		if frames, err := broadcast.Frames(body, []string{room}); err == nil {
			body = frames[0]
		}
	}
	e.send(c, body)
}
