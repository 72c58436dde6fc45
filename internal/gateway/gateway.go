package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/relaypoint/gateway/internal/broadcast"
	"github.com/relaypoint/gateway/internal/connection"
	"github.com/relaypoint/gateway/internal/encoding"
	"github.com/relaypoint/gateway/internal/metrics"
	"github.com/relaypoint/gateway/internal/ratelimit"
)

// Config holds the message-pipeline knobs of the entry point. Listener
// concerns (addresses, timeouts, upgrade policy) belong to the transport.
type Config struct {
	// RateLimit is the WebSocket inbound message budget per clock tick.
	// 0 disables rate limiting.
	RateLimit int

	// WriteThreshold and MaxPending bound the outbound path per
	// connection; zero values take the package defaults.
	WriteThreshold int
	MaxPending     int

	// AllowCompression enables response compression negotiation on HTTP.
	AllowCompression bool

	// MaxEncodingLayers caps stacked inbound Content-Encoding codings.
	MaxEncodingLayers int

	// MaxBodySize caps the assembled (and the decoded) HTTP request body
	// in bytes. 0 disables the cap.
	MaxBodySize int64

	// MaxFormFileSize caps each multipart file part in bytes.
	MaxFormFileSize int64
}

// Deps are the collaborators the entry point drives. Executor is required;
// the rest may be nil and degrade to no-ops.
type Deps struct {
	Executor   Executor
	Publisher  broadcast.Publisher
	Subscriber Subscriber
	Lifecycle  connection.Lifecycle
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// EntryPoint is the dual-protocol gateway core: it owns the connection
// registry, applies backpressure and rate limiting, frames messages, and
// drives the execution collaborator. Transports call in through the
// Handle* methods; execution results flow back through delivery callbacks
// that re-validate the target connection.
type EntryPoint struct {
	cfg       Config
	exec      Executor
	caster    *broadcast.Broadcaster
	subs      Subscriber
	lifecycle connection.Lifecycle
	registry  *connection.Registry
	neg       *encoding.Negotiator
	clock     *ratelimit.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the entry point. Call Start before serving traffic.
func New(cfg Config, deps Deps) *EntryPoint {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &EntryPoint{
		cfg:       cfg,
		exec:      deps.Executor,
		subs:      deps.Subscriber,
		lifecycle: deps.Lifecycle,
		neg:       encoding.NewNegotiator(),
		clock:     ratelimit.NewClock(),
		metrics:   deps.Metrics,
		logger:    logger,
		ctx:       context.Background(),
	}
	e.caster = broadcast.New(deps.Publisher, logger)
	e.registry = connection.NewRegistry(connection.RegistryConfig{
		WriteThreshold: cfg.WriteThreshold,
		MaxPending:     cfg.MaxPending,
		RateLimit:      cfg.RateLimit,
	}, deps.Lifecycle, logger)
	return e
}

// Start begins background work (the shared rate-limit clock).
func (e *EntryPoint) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.clock.Start(e.ctx)
	e.logger.Info("gateway started",
		"rate_limit", e.cfg.RateLimit,
		"max_body_size", e.cfg.MaxBodySize,
	)
	return nil
}

// Stop force-closes every open connection. Each transport's close
// notification completes the teardown through HandleClose, so lifecycle
// notifications still fire exactly once.
func (e *EntryPoint) Stop(ctx context.Context) error {
	conns := e.registry.Conns()
	e.logger.Info("stopping gateway", "open_conns", len(conns))

	if e.cancel != nil {
		e.cancel()
	}
	e.clock.Stop()

	for _, c := range conns {
		c.ForceClose(connection.CloseGoingAway, "server shutting down")
	}
	return nil
}

// Send delivers one frame to a connection by identity. Unknown identities
// and closed connections are silent no-ops; this is the delivery sink the
// pub-sub layer fans out through.
func (e *EntryPoint) Send(connID string, frame []byte) {
	c, ok := e.registry.LookupID(connID)
	if !ok {
		return
	}
	e.send(c, frame)
}

// Broadcast stamps payload once per channel and publishes the frames.
func (e *EntryPoint) Broadcast(payload []byte, channels []string) error {
	if err := e.caster.Broadcast(payload, channels); err != nil {
		return err
	}
	e.metrics.BroadcastSent(len(channels))
	return nil
}

// Notify unicasts payload to one connection, stamped once per channel, in
// channel order.
func (e *EntryPoint) Notify(payload []byte, channels []string, connID string) error {
	frames, err := broadcast.Frames(payload, channels)
	if err != nil {
		return err
	}
	c, ok := e.registry.LookupID(connID)
	if !ok {
		return nil
	}
	for _, frame := range frames {
		e.send(c, frame)
	}
	return nil
}

// Stats reports open connection counts.
func (e *EntryPoint) Stats() connection.RegistryStats {
	return e.registry.Stats()
}

// send pushes one frame through the connection's backpressure queue.
func (e *EntryPoint) send(c *connection.Conn, frame []byte) {
	err := c.Queue.Send(frame)
	switch {
	case err == nil:
		e.metrics.MessageOut()
	case errors.Is(err, connection.ErrOverflow):
		e.closeOverflow(c)
	default:
		// Transport already closed; unregistration catches up on its
		// close notification.
		e.logger.Debug("send to closed connection dropped", "conn_id", c.ID)
	}
}

// closeOverflow force-closes a connection whose pending queue exceeded its
// bound. The fixed diagnostic is the only thing the client sees: no error
// response precedes the close.
func (e *EntryPoint) closeOverflow(c *connection.Conn) {
	if !c.ForceClose(connection.ClosePolicyViolation, connection.OverflowDiagnostic) {
		return
	}
	e.metrics.OverflowClose()
	e.metrics.ErrorByKind(string(KindOverflow))
	e.logger.Warn("closing connection: outbound backpressure overflow",
		"conn_id", c.ID,
		"protocol", c.Protocol,
	)
}

// applySubscriptions applies a result's channel membership changes.
func (e *EntryPoint) applySubscriptions(connID string, res *Result) {
	if e.subs == nil {
		return
	}
	for _, ch := range res.Subscribe {
		e.subs.Subscribe(ch, connID)
	}
	for _, ch := range res.Unsubscribe {
		e.subs.Unsubscribe(ch, connID)
	}
}
