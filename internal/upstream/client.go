package upstream

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultMessagePath is where routed socket messages are executed when the
// configuration does not name a path.
const DefaultMessagePath = "/messages"

// Client executes gateway requests against the upstream application server.
// It implements the gateway's Executor contract: HTTP exchanges forward with
// their method and path, routed socket messages post to the message path.
type Client struct {
	baseURL     string
	messagePath string
	httpClient  *http.Client
	logger      *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates an upstream client for the application server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		messagePath: DefaultMessagePath,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithMessagePath sets the execution path for routed socket messages.
func WithMessagePath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.messagePath = path
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}
