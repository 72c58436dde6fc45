package config

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	HTTP      HTTPConfig      `yaml:"http"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Database  DatabaseConfig  `yaml:"database"`
	AccessLog AccessLogConfig `yaml:"accesslog"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServerConfig holds the public listener settings shared by both protocols.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ShutdownTimeoutDuration returns the parsed shutdown_timeout.
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// WebSocketConfig holds WebSocket entry point settings.
type WebSocketConfig struct {
	Enabled       bool `yaml:"enabled"`
	IdleTimeoutMs int  `yaml:"idle_timeout_ms"` // 0 or <1000 replaced by default
	RateLimit     int  `yaml:"rate_limit"`      // messages per second tick, 0 disables
	Compression   bool `yaml:"compression"`     // permessage-deflate negotiation
	HandshakeRate int  `yaml:"handshake_rate"`  // upgrades per second, 0 disables
}

// IdleTimeout returns idle_timeout_ms as a duration.
func (w *WebSocketConfig) IdleTimeout() time.Duration {
	return time.Duration(w.IdleTimeoutMs) * time.Millisecond
}

// HTTPConfig holds HTTP entry point settings.
type HTTPConfig struct {
	Enabled           bool   `yaml:"enabled"`
	AllowCompression  bool   `yaml:"allow_compression"`
	MaxEncodingLayers int    `yaml:"max_encoding_layers"`
	MaxBodySize       string `yaml:"max_body_size"`
	MaxFormFileSize   string `yaml:"max_form_file_size"`
}

// MaxBodyBytes returns the parsed max_body_size in bytes.
// Validate guarantees the field parses; a zero return means unvalidated config.
func (h *HTTPConfig) MaxBodyBytes() int64 {
	n, err := humanize.ParseBytes(h.MaxBodySize)
	if err != nil {
		return 0
	}
	return int64(n)
}

// MaxFormFileBytes returns the parsed max_form_file_size in bytes.
func (h *HTTPConfig) MaxFormFileBytes() int64 {
	n, err := humanize.ParseBytes(h.MaxFormFileSize)
	if err != nil {
		return 0
	}
	return int64(n)
}

// UpstreamConfig holds the request execution backend settings.
type UpstreamConfig struct {
	URL         string `yaml:"url"`
	MessagePath string `yaml:"message_path"` // where routed socket messages are executed
	Timeout     string `yaml:"timeout"`
	MaxRetries  int    `yaml:"max_retries"`
}

// TimeoutDuration returns the parsed request timeout.
func (u *UpstreamConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(u.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// DatabaseConfig holds the access-log database connection.
// An empty host disables access-log persistence.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (d *DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// AccessLogConfig holds batch writer and retention settings.
type AccessLogConfig struct {
	BatchSize         int    `yaml:"batch_size"`
	FlushInterval     string `yaml:"flush_interval"`
	Retention         string `yaml:"retention"` // empty disables purging
	RetentionSchedule string `yaml:"retention_schedule"`
}

// FlushIntervalDuration returns the parsed flush_interval.
func (a *AccessLogConfig) FlushIntervalDuration() time.Duration {
	d, err := time.ParseDuration(a.FlushInterval)
	if err != nil {
		return 0
	}
	return d
}

// RetentionDuration returns the parsed retention window, 0 when disabled.
func (a *AccessLogConfig) RetentionDuration() time.Duration {
	if a.Retention == "" {
		return 0
	}
	d, err := time.ParseDuration(a.Retention)
	if err != nil {
		return 0
	}
	return d
}

// MetricsConfig holds Prometheus metrics settings for the ops listener.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// SlogLevel maps the configured level onto slog.
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
