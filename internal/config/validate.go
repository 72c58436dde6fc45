package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// Validate checks that all required fields are set and values are valid.
// The gateway never starts half-configured: any error here is fatal.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !c.WebSocket.Enabled && !c.HTTP.Enabled {
		return errors.New("at least one of websocket.enabled or http.enabled must be true")
	}

	if c.WebSocket.RateLimit < 0 {
		return fmt.Errorf("websocket.rate_limit must be >= 0, got %d", c.WebSocket.RateLimit)
	}
	if c.WebSocket.HandshakeRate < 0 {
		return fmt.Errorf("websocket.handshake_rate must be >= 0, got %d", c.WebSocket.HandshakeRate)
	}

	if c.HTTP.MaxEncodingLayers < 1 {
		return fmt.Errorf("http.max_encoding_layers must be >= 1, got %d", c.HTTP.MaxEncodingLayers)
	}
	if _, err := humanize.ParseBytes(c.HTTP.MaxBodySize); err != nil {
		return fmt.Errorf("http.max_body_size %q is not a valid size", c.HTTP.MaxBodySize)
	}
	if _, err := humanize.ParseBytes(c.HTTP.MaxFormFileSize); err != nil {
		return fmt.Errorf("http.max_form_file_size %q is not a valid size", c.HTTP.MaxFormFileSize)
	}

	if err := c.Upstream.validate(); err != nil {
		return err
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if err := c.AccessLog.validate(); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (u *UpstreamConfig) validate() error {
	if u.URL == "" {
		return errors.New("upstream.url is required")
	}
	parsed, err := url.Parse(u.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("upstream.url %q must be an absolute http(s) URL", u.URL)
	}
	d, err := time.ParseDuration(u.Timeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("upstream.timeout %q is not a valid duration", u.Timeout)
	}
	if u.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must be >= 0, got %d", u.MaxRetries)
	}
	return nil
}

func (db *DatabaseConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func (a *AccessLogConfig) validate() error {
	if a.BatchSize < 1 {
		return fmt.Errorf("accesslog.batch_size must be >= 1, got %d", a.BatchSize)
	}
	d, err := time.ParseDuration(a.FlushInterval)
	if err != nil || d <= 0 {
		return fmt.Errorf("accesslog.flush_interval %q is not a valid duration", a.FlushInterval)
	}
	if a.Retention != "" {
		if _, err := time.ParseDuration(a.Retention); err != nil {
			return fmt.Errorf("accesslog.retention %q is not a valid duration", a.Retention)
		}
		if _, err := cron.ParseStandard(a.RetentionSchedule); err != nil {
			return fmt.Errorf("accesslog.retention_schedule %q is not a valid cron expression", a.RetentionSchedule)
		}
	}
	return nil
}
