package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaypoint/gateway/internal/connection"
	"github.com/relaypoint/gateway/internal/gateway"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://app:9090")

		if c.baseURL != "http://app:9090" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "http://app:9090")
		}
		if c.messagePath != DefaultMessagePath {
			t.Errorf("messagePath = %q, want %q", c.messagePath, DefaultMessagePath)
		}
		if c.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 10*time.Second)
		}
		if c.maxRetries != 2 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 2)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		hc := &http.Client{Timeout: 3 * time.Second}
		c := NewClient("http://app:9090",
			WithMessagePath("/rpc"),
			WithRetries(5, 50*time.Millisecond),
			WithLogger(quietLogger()),
			WithHTTPClient(hc),
		)
		if c.messagePath != "/rpc" {
			t.Errorf("messagePath = %q, want /rpc", c.messagePath)
		}
		if c.maxRetries != 5 {
			t.Errorf("maxRetries = %d, want 5", c.maxRetries)
		}
		if c.retryBackoff != 50*time.Millisecond {
			t.Errorf("retryBackoff = %v, want 50ms", c.retryBackoff)
		}
		if c.httpClient != hc {
			t.Error("custom HTTP client not set")
		}
	})

	t.Run("empty message path keeps default", func(t *testing.T) {
		c := NewClient("http://app:9090", WithMessagePath(""))
		if c.messagePath != DefaultMessagePath {
			t.Errorf("messagePath = %q, want %q", c.messagePath, DefaultMessagePath)
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 503, Message: "Service Unavailable"}
		expected := "upstream error 503: Service Unavailable"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable classification", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{504, true},
			{429, true},
			{400, false},
			{404, false},
			{422, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestRoute tests socket message routing.
func TestRoute(t *testing.T) {
	c := NewClient("http://app:9090", WithMessagePath("/rpc"), WithLogger(quietLogger()))

	routed := func(data, requestID string) *gateway.Request {
		t.Helper()
		var got *gateway.Request
		c.Route(context.Background(), &gateway.SocketMessage{
			ConnID:    "c1",
			Data:      []byte(data),
			RequestID: requestID,
		}, func(req *gateway.Request, err error) {
			if err != nil {
				t.Fatalf("unexpected route error: %v", err)
			}
			got = req
		})
		if got == nil {
			t.Fatal("route callback not invoked")
		}
		return got
	}

	t.Run("defaults to POST message path", func(t *testing.T) {
		req := routed(`{"op":"create"}`, "r1")
		if req.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", req.Method)
		}
		if req.Path != "/rpc" {
			t.Errorf("path = %q, want /rpc", req.Path)
		}
		if req.Room != "r1" {
			t.Errorf("room = %q, want r1", req.Room)
		}
		if req.ConnID != "c1" {
			t.Errorf("conn id = %q, want c1", req.ConnID)
		}
		if req.Protocol != connection.ProtocolWebSocket {
			t.Errorf("protocol = %q, want websocket", req.Protocol)
		}
		if string(req.Body) != `{"op":"create"}` {
			t.Errorf("body = %q, want the message bytes", req.Body)
		}
	})

	t.Run("envelope overrides method and path", func(t *testing.T) {
		req := routed(`{"method":"get","path":"/things/7"}`, "")
		if req.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", req.Method)
		}
		if req.Path != "/things/7" {
			t.Errorf("path = %q, want /things/7", req.Path)
		}
		if req.Room != "" {
			t.Errorf("room = %q, want empty", req.Room)
		}
	})

	t.Run("unknown method falls back to POST", func(t *testing.T) {
		req := routed(`{"method":"TRACE"}`, "")
		if req.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", req.Method)
		}
	})

	t.Run("relative path ignored", func(t *testing.T) {
		req := routed(`{"path":"things"}`, "")
		if req.Path != "/rpc" {
			t.Errorf("path = %q, want /rpc", req.Path)
		}
	})
}

func executeOnce(t *testing.T, c *Client, req *gateway.Request) (*gateway.Result, error) {
	t.Helper()
	var (
		res     *gateway.Result
		err     error
		invoked bool
	)
	c.Execute(context.Background(), req, func(r *gateway.Result, e error) {
		res, err = r, e
		invoked = true
	})
	if !invoked {
		t.Fatal("execute callback not invoked")
	}
	return res, err
}

// TestExecute tests upstream execution.
func TestExecute(t *testing.T) {
	t.Run("round trip with correlation headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %q, want POST", r.Method)
			}
			if r.URL.Path != "/messages" {
				t.Errorf("path = %q, want /messages", r.URL.Path)
			}
			if r.Header.Get("Gateway-Connection-Id") != "c1" {
				t.Errorf("conn id header = %q, want c1", r.Header.Get("Gateway-Connection-Id"))
			}
			if r.Header.Get("Gateway-Request-Id") != "req-1" {
				t.Errorf("request id header = %q, want req-1", r.Header.Get("Gateway-Request-Id"))
			}
			if r.Header.Get("X-Forwarded-For") != "10.0.0.1, 10.0.0.2" {
				t.Errorf("forwarded header = %q", r.Header.Get("X-Forwarded-For"))
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"op":"create"}` {
				t.Errorf("body = %q", body)
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":7}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithLogger(quietLogger()))
		res, err := executeOnce(t, c, &gateway.Request{
			ID:        "req-1",
			ConnID:    "c1",
			Protocol:  connection.ProtocolWebSocket,
			Method:    http.MethodPost,
			Path:      "/messages",
			Body:      []byte(`{"op":"create"}`),
			RemoteIPs: []string{"10.0.0.1", "10.0.0.2"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Status != http.StatusCreated {
			t.Errorf("status = %d, want 201", res.Status)
		}
		if res.ContentType != "application/json; charset=utf-8" {
			t.Errorf("content type = %q", res.ContentType)
		}
		if string(res.Body) != `{"id":7}` {
			t.Errorf("body = %q, want {\"id\":7}", res.Body)
		}
	})

	t.Run("forwards query and original content type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") != "2" {
				t.Errorf("page = %q, want 2", r.URL.Query().Get("page"))
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				t.Errorf("content type = %q", ct)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithLogger(quietLogger()))
		header := http.Header{}
		header.Set("Content-Type", "application/x-www-form-urlencoded")
		_, err := executeOnce(t, c, &gateway.Request{
			Method: http.MethodPost,
			Path:   "/form",
			Query:  url.Values{"page": {"2"}},
			Header: header,
			Body:   []byte("a=1"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx passes through as result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"no such thing"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithLogger(quietLogger()))
		res, err := executeOnce(t, c, &gateway.Request{Method: http.MethodGet, Path: "/things/9"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", res.Status)
		}
		if !strings.Contains(string(res.Body), "no such thing") {
			t.Errorf("body = %q", res.Body)
		}
	})

	t.Run("subscription directives parsed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add(HeaderSubscribe, "orders, alerts")
			w.Header().Add(HeaderSubscribe, "news")
			w.Header().Set(HeaderUnsubscribe, "drafts")
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithLogger(quietLogger()))
		res, err := executeOnce(t, c, &gateway.Request{Method: http.MethodPost, Path: "/messages"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"orders", "alerts", "news"}
		if len(res.Subscribe) != len(want) {
			t.Fatalf("subscribe = %v, want %v", res.Subscribe, want)
		}
		for i := range want {
			if res.Subscribe[i] != want[i] {
				t.Errorf("subscribe[%d] = %q, want %q", i, res.Subscribe[i], want[i])
			}
		}
		if len(res.Unsubscribe) != 1 || res.Unsubscribe[0] != "drafts" {
			t.Errorf("unsubscribe = %v, want [drafts]", res.Unsubscribe)
		}
	})

	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond), WithLogger(quietLogger()))
		res, err := executeOnce(t, c, &gateway.Request{
			Method: http.MethodPost,
			Path:   "/messages",
			Body:   []byte(`{"op":"x"}`),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(res.Body) != `{"ok":true}` {
			t.Errorf("body = %q", res.Body)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("max retries exceeded surfaces APIError", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond), WithLogger(quietLogger()))
		_, err := executeOnce(t, c, &gateway.Request{Method: http.MethodPost, Path: "/messages"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error = %v, want max retries exceeded", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("connection failure is an error", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", WithRetries(0, time.Millisecond), WithLogger(quietLogger()))
		_, err := executeOnce(t, c, &gateway.Request{Method: http.MethodGet, Path: "/healthz"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, 50*time.Millisecond), WithLogger(quietLogger()))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		var execErr error
		c.Execute(ctx, &gateway.Request{Method: http.MethodPost, Path: "/messages"}, func(_ *gateway.Result, e error) {
			execErr = e
		})
		if execErr == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(execErr.Error(), "context") {
			t.Errorf("error should be context-related, got %v", execErr)
		}
	})
}
