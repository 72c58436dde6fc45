package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/relaypoint/gateway/internal/connection"
	"github.com/relaypoint/gateway/internal/gateway"
)

// Config holds the listener-side knobs: which protocols the public port
// serves and how WebSocket sessions are accepted and kept alive.
type Config struct {
	Addr             string
	WebSocketEnabled bool
	HTTPEnabled      bool

	// IdleTimeout terminates WebSocket sessions with no inbound traffic,
	// including control frames. Zero disables the idle check.
	IdleTimeout time.Duration

	// HandshakeRate caps WebSocket upgrades per second. Zero disables.
	HandshakeRate int

	// Compression negotiates permessage-deflate on upgraded sessions.
	Compression bool
}

// Server is the public listener: one port serving WebSocket upgrades and
// plain HTTP exchanges, both terminating in the gateway entry point.
type Server struct {
	cfg    Config
	entry  *gateway.EntryPoint
	logger *slog.Logger

	httpSrv  *http.Server
	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

// NewServer builds the listener around entry. Routing is fixed at
// construction: upgrade requests go to the WebSocket path, everything else
// to the HTTP exchange path, per the enabled protocols.
func NewServer(cfg Config, entry *gateway.EntryPoint, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		entry:  entry,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: cfg.Compression,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
	}
	if cfg.HandshakeRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.HandshakeRate), cfg.HandshakeRate)
	}

	r := mux.NewRouter()
	if cfg.WebSocketEnabled {
		r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
			return websocket.IsWebSocketUpgrade(req)
		}).HandlerFunc(s.handleUpgrade)
	}
	if cfg.HTTPEnabled {
		r.PathPrefix("/").HandlerFunc(entry.HandleRequest)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until Stop. It returns nil on clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening",
		"addr", s.cfg.Addr,
		"websocket", s.cfg.WebSocketEnabled,
		"http", s.cfg.HTTPEnabled,
	)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down and waits for session read loops. Open
// WebSocket transports must be closed first (EntryPoint.Stop does that);
// hijacked connections are invisible to http.Server.Shutdown.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("listener shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, abandoning session loops")
	}
	return nil
}

// handleUpgrade accepts one WebSocket session and runs its read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "handshake rate exceeded", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Debug("upgrade rejected", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	t := newWSConn(ws, r.URL.Path)
	t.onDrain = func(t *wsConn) { s.entry.HandleDrain(t) }

	c := s.entry.HandleOpen(t, gateway.ClientIPs(r))
	s.logger.Debug("websocket session open",
		"conn_id", c.ID,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	// Inbound control traffic counts as liveness for the idle check.
	ws.SetPingHandler(func(data string) error {
		s.touch(ws)
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})
	ws.SetPongHandler(func(string) error {
		s.touch(ws)
		return nil
	})

	s.wg.Add(1)
	go t.pump()
	go s.readLoop(t, c)
}

// readLoop feeds inbound frames to the gateway until the socket dies, then
// finalizes the session.
func (s *Server) readLoop(t *wsConn, c *connection.Conn) {
	defer s.wg.Done()

	for {
		s.touch(t.ws)
		mt, data, err := t.ws.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			s.logger.Debug("ignoring non-text frame", "conn_id", c.ID)
			continue
		}
		t.bytesIn.Add(int64(len(data)))
		s.entry.HandleMessage(c, data)
	}

	t.Close(websocket.CloseNormalClosure, "")
	s.entry.HandleClose(t, t.path, t.bytesIn.Load(), t.bytesOut.Load())
	s.logger.Debug("websocket session closed", "conn_id", c.ID)
}

// touch refreshes the idle deadline.
func (s *Server) touch(ws *websocket.Conn) {
	if s.cfg.IdleTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}
