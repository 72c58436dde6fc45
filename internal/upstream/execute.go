package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint/gateway/internal/connection"
	"github.com/relaypoint/gateway/internal/gateway"
)

// Subscription directive headers on upstream responses.
const (
	HeaderSubscribe   = "Gateway-Subscribe"
	HeaderUnsubscribe = "Gateway-Unsubscribe"
)

// Request correlation headers sent upstream.
const (
	headerConnID    = "Gateway-Connection-Id"
	headerRequestID = "Gateway-Request-Id"
	headerProtocol  = "Gateway-Protocol"
)

// APIError represents a failed upstream execution: a 5xx or 429 response.
// Other statuses are application outcomes and pass through as results.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// socketEnvelope is the optional routing envelope of a socket message.
type socketEnvelope struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Route turns one socket message into an upstream request. Messages may name
// a method and path in their envelope; everything else posts to the message
// path. The correlation id becomes the request room.
func (c *Client) Route(_ context.Context, msg *gateway.SocketMessage, onRequest func(*gateway.Request, error)) {
	var env socketEnvelope
	// Data is known-valid JSON; envelope keys are optional.
	_ = json.Unmarshal(msg.Data, &env)

	method := http.MethodPost
	if m := strings.ToUpper(strings.TrimSpace(env.Method)); isForwardableMethod(m) {
		method = m
	}
	path := c.messagePath
	if strings.HasPrefix(env.Path, "/") {
		path = env.Path
	}

	onRequest(&gateway.Request{
		ID:         uuid.NewString(),
		ConnID:     msg.ConnID,
		Protocol:   connection.ProtocolWebSocket,
		Method:     method,
		Path:       path,
		Body:       msg.Data,
		Room:       msg.RequestID,
		ReceivedAt: msg.ReceivedAt,
	}, nil)
}

// Execute runs one request against the upstream server and reports the
// outcome. 5xx and 429 responses retry with backoff and surface as errors
// when exhausted; every other response passes through as the result.
func (c *Client) Execute(ctx context.Context, req *gateway.Request, onResult func(*gateway.Result, error)) {
	res, err := c.doWithRetry(ctx, req)
	if err != nil {
		onResult(nil, err)
		return
	}
	onResult(res, nil)
}

// do performs one upstream exchange.
func (c *Client) do(ctx context.Context, req *gateway.Request) (*gateway.Result, error) {
	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("Content-Type", requestContentType(req))
	hr.Header.Set(headerConnID, req.ConnID)
	hr.Header.Set(headerRequestID, req.ID)
	hr.Header.Set(headerProtocol, req.Protocol)
	if len(req.RemoteIPs) > 0 {
		hr.Header.Set("X-Forwarded-For", strings.Join(req.RemoteIPs, ", "))
	}

	resp, err := c.httpClient.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return &gateway.Result{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
		Subscribe:   directives(resp.Header, HeaderSubscribe),
		Unsubscribe: directives(resp.Header, HeaderUnsubscribe),
	}, nil
}

// doWithRetry performs an exchange with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, req *gateway.Request) (*gateway.Result, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying upstream request",
				"attempt", attempt,
				"backoff", jitter,
				"path", req.Path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		res, err := c.do(ctx, req)
		if err == nil {
			return res, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// requestContentType picks the forwarded Content-Type. Socket messages have
// no headers and are always JSON.
func requestContentType(req *gateway.Request) string {
	if ct := req.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// directives collects one directive header's channel names. Values repeat
// and may be comma separated.
func directives(h http.Header, key string) []string {
	var out []string
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// isForwardableMethod bounds the methods a socket envelope may select.
func isForwardableMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
