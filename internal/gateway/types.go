package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/relaypoint/gateway/internal/httpbody"
)

// SocketMessage is one inbound WebSocket application message, already past
// heartbeat and rate-limit handling.
type SocketMessage struct {
	ConnID     string
	Data       []byte
	RequestID  string // correlation id from the message, "" when absent
	ReceivedAt time.Time
}

// Request is the normalized request handed to the execution collaborator.
// HTTP requests carry the method, path and parsed body of the exchange;
// routed socket messages carry the message bytes and their correlation id.
type Request struct {
	ID         string
	ConnID     string
	Protocol   string
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	Form       url.Values
	Files      []httpbody.FormFile
	Room       string // round-trips into the delivered response frame
	RemoteIPs  []string
	ReceivedAt time.Time
}

// Result is the execution outcome delivered back through the gateway.
type Result struct {
	Status      int               // HTTP status, 0 means 200
	ContentType string            // "" means application/json
	Header      map[string]string // extra response headers
	Body        []byte
	Subscribe   []string // channels to join on behalf of the connection
	Unsubscribe []string // channels to leave
}

// Executor runs application work on behalf of the gateway. Both callbacks
// may fire at an arbitrary later time on any goroutine; the gateway
// re-validates the target connection at delivery time.
type Executor interface {
	// Route turns one socket message into request execution.
	Route(ctx context.Context, msg *SocketMessage, onRequest func(*Request, error))

	// Execute runs one request and reports its result.
	Execute(ctx context.Context, req *Request, onResult func(*Result, error))
}

// Subscriber manages channel membership on behalf of execution results.
type Subscriber interface {
	Subscribe(channel, connID string)
	Unsubscribe(channel, connID string)
}

// Heartbeat wire constants. The probe is matched structurally, the reply is
// always these exact bytes.
var (
	heartbeatProbe = []byte(`{"p":1}`)
	heartbeatReply = []byte(`{"p":2}`)
)

// isHeartbeat reports whether data is the heartbeat probe: a JSON object
// whose only key is "p" with value 1. The exact serialization matches on a
// fast path; otherwise the object is decoded and checked structurally.
func isHeartbeat(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, heartbeatProbe) {
		return true
	}
	if len(trimmed) < 2 || trimmed[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	if len(obj) != 1 {
		return false
	}
	v, ok := obj["p"]
	if !ok {
		return false
	}
	return string(bytes.TrimSpace(v)) == "1"
}

// requestIDOf extracts the correlation id of a socket message, when present.
func requestIDOf(data []byte) string {
	var probe struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.RequestID
}
