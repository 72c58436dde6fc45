package config

// Default values for optional configuration fields.
const (
	DefaultServerAddr          = ":8400"
	DefaultShutdownTimeout     = "10s"
	DefaultIdleTimeoutMs       = 60000
	MinIdleTimeoutMs           = 1000
	DefaultMaxEncodingLayers   = 2
	DefaultMaxBodySize         = "10mb"
	DefaultMaxFormFileSize     = "8mb"
	DefaultUpstreamMessagePath = "/messages"
	DefaultUpstreamTimeout     = "10s"
	DefaultUpstreamMaxRetries  = 2
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 0
	DefaultBatchSize           = 500
	DefaultFlushInterval       = "2s"
	DefaultRetentionSchedule   = "13 3 * * *"
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *GatewayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// WebSocket defaults. Idle timeouts under one second are treated as
	// unset rather than rejected.
	if c.WebSocket.IdleTimeoutMs < MinIdleTimeoutMs {
		c.WebSocket.IdleTimeoutMs = DefaultIdleTimeoutMs
	}

	// HTTP defaults
	if c.HTTP.MaxEncodingLayers == 0 {
		c.HTTP.MaxEncodingLayers = DefaultMaxEncodingLayers
	}
	if c.HTTP.MaxBodySize == "" {
		c.HTTP.MaxBodySize = DefaultMaxBodySize
	}
	if c.HTTP.MaxFormFileSize == "" {
		c.HTTP.MaxFormFileSize = DefaultMaxFormFileSize
	}

	// Upstream defaults
	if c.Upstream.MessagePath == "" {
		c.Upstream.MessagePath = DefaultUpstreamMessagePath
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultUpstreamMaxRetries
	}

	// Database defaults (only meaningful when a host is configured)
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Access log defaults
	if c.AccessLog.BatchSize == 0 {
		c.AccessLog.BatchSize = DefaultBatchSize
	}
	if c.AccessLog.FlushInterval == "" {
		c.AccessLog.FlushInterval = DefaultFlushInterval
	}
	if c.AccessLog.RetentionSchedule == "" {
		c.AccessLog.RetentionSchedule = DefaultRetentionSchedule
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
