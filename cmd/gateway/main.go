package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaypoint/gateway/internal/accesslog"
	"github.com/relaypoint/gateway/internal/config"
	"github.com/relaypoint/gateway/internal/connection"
	"github.com/relaypoint/gateway/internal/gateway"
	"github.com/relaypoint/gateway/internal/metrics"
	"github.com/relaypoint/gateway/internal/pubsub"
	"github.com/relaypoint/gateway/internal/transport"
	"github.com/relaypoint/gateway/internal/upstream"
	"github.com/relaypoint/gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logging until the configured handler is built
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
		"websocket", cfg.WebSocket.Enabled,
		"http", cfg.HTTP.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Access log persistence is optional
	var (
		store    *accesslog.Store
		retainer *accesslog.Retainer
	)
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err := accesslog.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		store = accesslog.NewStore(accesslog.Config{
			BatchSize:     cfg.AccessLog.BatchSize,
			FlushInterval: cfg.AccessLog.FlushIntervalDuration(),
		}, pool, logger)
		if err := store.Start(ctx); err != nil {
			logger.Error("failed to start access log store", "error", err)
			os.Exit(1)
		}

		retainer = accesslog.NewRetainer(pool,
			cfg.AccessLog.RetentionDuration(),
			cfg.AccessLog.RetentionSchedule,
			logger,
		)
		if err := retainer.Start(); err != nil {
			logger.Error("failed to start access log retention", "error", err)
			os.Exit(1)
		}
	}

	mets := metrics.New(nil)

	// Request execution backend
	exec := upstream.NewClient(cfg.Upstream.URL,
		upstream.WithMessagePath(cfg.Upstream.MessagePath),
		upstream.WithTimeout(cfg.Upstream.TimeoutDuration()),
		upstream.WithRetries(cfg.Upstream.MaxRetries, 250*time.Millisecond),
		upstream.WithLogger(logger),
	)

	// The hub delivers through the entry point, which is built right after.
	var entry *gateway.EntryPoint
	hub := pubsub.NewHub(func(connID string, frame []byte) {
		entry.Send(connID, frame)
	}, logger)

	entry = gateway.New(gateway.Config{
		RateLimit:         cfg.WebSocket.RateLimit,
		AllowCompression:  cfg.HTTP.AllowCompression,
		MaxEncodingLayers: cfg.HTTP.MaxEncodingLayers,
		MaxBodySize:       cfg.HTTP.MaxBodyBytes(),
		MaxFormFileSize:   cfg.HTTP.MaxFormFileBytes(),
	}, gateway.Deps{
		Executor:   exec,
		Publisher:  hub,
		Subscriber: hub,
		Lifecycle:  &lifecycleHooks{logger: logger, store: store, hub: hub},
		Metrics:    mets,
		Logger:     logger,
	})
	if err := entry.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	server := transport.NewServer(transport.Config{
		Addr:             cfg.Server.Addr,
		WebSocketEnabled: cfg.WebSocket.Enabled,
		HTTPEnabled:      cfg.HTTP.Enabled,
		IdleTimeout:      cfg.WebSocket.IdleTimeout(),
		HandshakeRate:    cfg.WebSocket.HandshakeRate,
		Compression:      cfg.WebSocket.Compression,
	}, entry, logger)

	opsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createOpsHandler(cfg.Metrics.Path, mets, entry, store),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		logger.Info("ops server listening", "addr", opsSrv.Addr)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
		defer shutdownCancel()

		// Open sessions close first so their read loops can finish before
		// the listener waits on them.
		entry.Stop(shutdownCtx)
		server.Stop(shutdownCtx)
		opsSrv.Shutdown(shutdownCtx)

		if retainer != nil {
			retainer.Stop()
		}
		if store != nil {
			store.Stop(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

// buildLogger constructs the slog handler from the logging config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// lifecycleHooks fans connection lifecycle notifications out to the pub-sub
// hub and the access log store.
type lifecycleHooks struct {
	logger *slog.Logger
	store  *accesslog.Store // nil when persistence is disabled
	hub    *pubsub.Hub
}

func (h *lifecycleHooks) NewConnection(c *connection.Conn) {
	h.logger.Debug("connection opened", "conn_id", c.ID, "protocol", c.Protocol)
}

func (h *lifecycleHooks) RemoveConnection(c *connection.Conn) {
	h.hub.DropConn(c.ID)
	h.logger.Debug("connection removed", "conn_id", c.ID, "protocol", c.Protocol)
}

func (h *lifecycleHooks) LogAccess(rec connection.AccessRecord) {
	if h.store != nil {
		h.store.Add(rec)
	}
}

// createOpsHandler builds the internal listener: metrics exposition, health,
// and the server-initiated publish endpoint.
func createOpsHandler(metricsPath string, mets *metrics.Metrics, entry *gateway.EntryPoint, store *accesslog.Store) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, mets.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := entry.Stats()
		health := struct {
			Status      string         `json:"status"`
			Connections map[string]int `json:"connections"`
			Components  map[string]any `json:"components"`
		}{
			Status: "healthy",
			Connections: map[string]int{
				"open":      stats.Open,
				"websocket": stats.WebSocket,
				"http":      stats.HTTP,
			},
			Components: make(map[string]any),
		}

		if store != nil {
			if err := store.Health(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/publish", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Channels []string        `json:"channels"`
			Payload  json.RawMessage `json:"payload"`
			ConnID   string          `json:"conn_id"` // optional: target one connection
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid publish request", http.StatusBadRequest)
			return
		}
		if len(req.Channels) == 0 || len(req.Payload) == 0 {
			http.Error(w, "channels and payload are required", http.StatusBadRequest)
			return
		}

		var err error
		if req.ConnID != "" {
			err = entry.Notify(req.Payload, req.Channels, req.ConnID)
		} else {
			err = entry.Broadcast(req.Payload, req.Channels)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}
