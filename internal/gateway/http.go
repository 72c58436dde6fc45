package gateway

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint/gateway/internal/connection"
	"github.com/relaypoint/gateway/internal/encoding"
	"github.com/relaypoint/gateway/internal/httpbody"
)

// statusClientClosed marks exchanges abandoned because the client went
// away mid-stream. No response bytes are written; the code exists for
// access records and metrics only.
const statusClientClosed = 499

// errClientGone aborts an exchange without producing a response.
var errClientGone = errors.New("client closed connection")

// httpTransport is the per-exchange transport identity of one HTTP request.
// The response is written by the handler goroutine, not through the queue,
// so frame sends report closed; registration exists to give the exchange a
// connection identity with the same lifecycle contract as a socket.
type httpTransport struct {
	remoteAddr string
}

func (t *httpTransport) Write([]byte) error      { return connection.ErrClosed }
func (t *httpTransport) BufferedAmount() int     { return 0 }
func (t *httpTransport) Close(int, string) error { return nil }
func (t *httpTransport) RemoteAddr() string      { return t.remoteAddr }

// HandleRequest serves one HTTP exchange through the gateway pipeline:
// register, assemble, execute, respond, unregister.
func (e *EntryPoint) HandleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	t := &httpTransport{remoteAddr: r.RemoteAddr}
	c := e.registry.Register(t, connection.ProtocolHTTP, ClientIPs(r))
	e.metrics.ConnOpened(connection.ProtocolHTTP)

	status, bytesIn, bytesOut := e.serveExchange(w, r, c)

	e.registry.Unregister(t)
	e.metrics.ConnClosed(connection.ProtocolHTTP)
	e.metrics.ObserveRequest(r.Method, status, time.Since(start))
	if e.lifecycle != nil {
		e.lifecycle.LogAccess(connection.AccessRecord{
			ConnID:   c.ID,
			Protocol: connection.ProtocolHTTP,
			Method:   r.Method,
			Path:     r.URL.Path,
			Status:   status,
			BytesIn:  bytesIn,
			BytesOut: bytesOut,
			Duration: time.Since(start),
			RemoteIP: c.RemoteIP(),
			At:       start,
		})
	}
}

type outcome struct {
	res *Result
	err error
}

func (e *EntryPoint) serveExchange(w http.ResponseWriter, r *http.Request, c *connection.Conn) (status int, bytesIn, bytesOut int64) {
	req, bytesIn, err := e.buildRequest(r, c)
	if err != nil {
		if errors.Is(err, errClientGone) {
			return statusClientClosed, bytesIn, 0
		}
		status, bytesOut = e.respondError(w, r, err)
		return status, bytesIn, bytesOut
	}

	// The callback may fire late or twice on misbehaving executors; the
	// buffered channel takes the first outcome and drops the rest.
	ch := make(chan outcome, 1)
	e.exec.Execute(e.ctx, req, func(res *Result, err error) {
		select {
		case ch <- outcome{res: res, err: err}:
		default:
		}
	})

	select {
	case <-r.Context().Done():
		// Client gone while execution runs: abandon silently.
		return statusClientClosed, bytesIn, 0
	case out := <-ch:
		if out.err != nil {
			status, bytesOut = e.respondError(w, r, out.err)
			return status, bytesIn, bytesOut
		}
		e.applySubscriptions(c.ID, out.res)
		status, bytesOut = e.respond(w, r, out.res)
		return status, bytesIn, bytesOut
	}
}

// buildRequest assembles and parses the request body, returning the
// normalized request plus the wire byte count received.
func (e *EntryPoint) buildRequest(r *http.Request, c *connection.Conn) (*Request, int64, error) {
	req := &Request{
		ID:         uuid.NewString(),
		ConnID:     c.ID,
		Protocol:   connection.ProtocolHTTP,
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Header:     r.Header,
		RemoteIPs:  c.IPs,
		ReceivedAt: time.Now(),
	}

	contentType := r.Header.Get("Content-Type")
	if r.ContentLength == 0 && contentType == "" {
		return req, 0, nil
	}

	mediaType, params, err := httpbody.ValidateContentType(contentType)
	if err != nil {
		return nil, 0, mapBodyErr(err)
	}

	// Reject declared oversize without reading; the assembler still
	// enforces the limit on actual bytes, declared lengths are untrusted.
	if e.cfg.MaxBodySize > 0 && r.ContentLength > e.cfg.MaxBodySize {
		return nil, 0, NewError(KindTooLarge, http.StatusRequestEntityTooLarge, "request body too large")
	}

	asm := httpbody.NewAssembler(e.cfg.MaxBodySize)
	if _, err := io.Copy(asm, r.Body); err != nil {
		if errors.Is(err, httpbody.ErrTooLarge) {
			return nil, asm.Size(), NewError(KindTooLarge, http.StatusRequestEntityTooLarge, "request body too large")
		}
		// Transport died mid-stream: no response goes out.
		return nil, asm.Size(), errClientGone
	}
	bytesIn := asm.Size()
	e.metrics.ObserveBodySize(int(bytesIn))

	body := asm.Bytes()
	if ce := r.Header.Get("Content-Encoding"); ce != "" {
		body, err = e.neg.Decode(body, ce, e.cfg.MaxEncodingLayers, e.cfg.MaxBodySize)
		if err != nil {
			return nil, bytesIn, mapBodyErr(err)
		}
	}

	parsed, err := httpbody.Parse(mediaType, params, body, e.cfg.MaxFormFileSize)
	if err != nil {
		return nil, bytesIn, mapBodyErr(err)
	}
	req.Body = body
	req.Form = parsed.Form
	req.Files = parsed.Files
	return req, bytesIn, nil
}

// respond commits headers once, then streams the body, resuming from the
// last accepted offset on short writes. Content-Length is the exact
// post-compression byte count.
func (e *EntryPoint) respond(w http.ResponseWriter, r *http.Request, res *Result) (int, int64) {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	body := res.Body

	header := w.Header()
	for k, v := range res.Header {
		header.Set(k, v)
	}
	header.Set("Content-Type", contentType)

	if e.cfg.AllowCompression && len(body) > 0 {
		if enc := e.neg.Negotiate(r.Header.Get("Accept-Encoding")); enc != encoding.Identity {
			compressed, err := e.neg.Encode(enc, body)
			if err == nil {
				body = compressed
				header.Set("Content-Encoding", string(enc))
				header.Add("Vary", "Accept-Encoding")
			}
		}
	}

	header.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	return status, writeAll(w, body)
}

// respondError emits the client-visible error body. Internal errors log
// their detail here and send the generic form.
func (e *EntryPoint) respondError(w http.ResponseWriter, r *http.Request, err error) (int, int64) {
	ge := AsError(err)
	if ge.Kind == KindInternal {
		e.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	e.metrics.ErrorByKind(string(ge.Kind))

	status := ge.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := encodeError(ge)

	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	return status, writeAll(w, body)
}

// writeAll writes body from offset 0, resuming after short writes until
// complete or the writer fails.
func writeAll(w io.Writer, body []byte) int64 {
	var off int
	for off < len(body) {
		n, err := w.Write(body[off:])
		off += n
		if err != nil || n == 0 {
			break
		}
	}
	return int64(off)
}

// mapBodyErr translates body pipeline failures into the client taxonomy.
func mapBodyErr(err error) error {
	switch {
	case errors.Is(err, httpbody.ErrTooLarge):
		return NewError(KindTooLarge, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, httpbody.ErrFileTooLarge):
		return NewError(KindTooLarge, http.StatusRequestEntityTooLarge, "form file too large")
	case errors.Is(err, encoding.ErrDecodedTooLarge):
		return NewError(KindTooLarge, http.StatusRequestEntityTooLarge, "decoded body too large")
	case errors.Is(err, httpbody.ErrUnsupportedType):
		return NewError(KindMalformed, http.StatusUnsupportedMediaType, "unsupported content type")
	case errors.Is(err, httpbody.ErrUnsupportedCharset):
		return NewError(KindMalformed, http.StatusUnsupportedMediaType, "unsupported charset")
	case errors.Is(err, encoding.ErrUnsupportedCoding):
		return NewError(KindMalformed, http.StatusUnsupportedMediaType, "unsupported content encoding")
	case errors.Is(err, encoding.ErrTooManyLayers):
		return NewError(KindMalformed, http.StatusUnsupportedMediaType, "too many content encoding layers")
	case errors.Is(err, httpbody.ErrMalformed):
		return NewError(KindMalformed, http.StatusBadRequest, "malformed request body")
	default:
		return err
	}
}

// ClientIPs returns the ordered client address chain: the direct peer
// first, then any hops from X-Forwarded-For.
func ClientIPs(r *http.Request) []string {
	ips := make([]string, 0, 2)
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ips = append(ips, host)
	} else if r.RemoteAddr != "" {
		ips = append(ips, r.RemoteAddr)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, part := range strings.Split(fwd, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}
