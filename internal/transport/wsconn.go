package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypoint/gateway/internal/connection"
)

const writeTimeout = 10 * time.Second

// wsConn adapts one server-side gorilla connection to the gateway's
// transport contract. Write never blocks: frames land in a pump queue and
// a single pump goroutine hands them to the socket in order, which keeps
// frames atomic without a write mutex on callers.
//
// BufferedAmount is the byte count accepted by Write but not yet written
// to the socket. When it falls back below the write threshold after having
// saturated, the pump fires the drain callback exactly once per crossing.
type wsConn struct {
	ws      *websocket.Conn
	path    string
	onDrain func(*wsConn)

	mu        sync.Mutex
	pending   [][]byte
	buffered  int
	saturated bool
	closed    bool

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newWSConn(ws *websocket.Conn, path string) *wsConn {
	return &wsConn{
		ws:   ws,
		path: path,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Write queues one frame for transmission. It never blocks on the socket.
func (t *wsConn) Write(frame []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return connection.ErrClosed
	}
	t.pending = append(t.pending, frame)
	t.buffered += len(frame)
	if t.buffered >= connection.DefaultWriteThreshold {
		t.saturated = true
	}
	t.mu.Unlock()

	select {
	case t.kick <- struct{}{}:
	default:
	}
	return nil
}

// BufferedAmount reports bytes accepted by Write but not yet on the socket.
func (t *wsConn) BufferedAmount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffered
}

// Close performs the close handshake once and tears the socket down.
// Concurrent with the pump: gorilla permits WriteControl alongside writes.
func (t *wsConn) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)

		t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeTimeout),
		)
		t.ws.Close()
	})
	return nil
}

func (t *wsConn) RemoteAddr() string {
	return t.ws.RemoteAddr().String()
}

// pump writes queued frames to the socket in order, firing the drain
// callback when the buffer falls back under the threshold.
func (t *wsConn) pump() {
	for {
		select {
		case <-t.done:
			return
		case <-t.kick:
		}

		for {
			t.mu.Lock()
			if len(t.pending) == 0 {
				t.mu.Unlock()
				break
			}
			frame := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()

			t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// Socket is gone; the read loop observes the same
				// failure and finalizes the connection.
				t.ws.Close()
				return
			}
			t.bytesOut.Add(int64(len(frame)))

			t.mu.Lock()
			t.buffered -= len(frame)
			fireDrain := t.saturated && t.buffered < connection.DefaultWriteThreshold
			if fireDrain {
				t.saturated = false
			}
			t.mu.Unlock()

			if fireDrain && t.onDrain != nil {
				t.onDrain(t)
			}
		}
	}
}
