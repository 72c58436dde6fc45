package encoding

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encoding names a content coding on the wire.
type Encoding string

const (
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
	Identity Encoding = "identity"
)

// priority fixes the outbound selection order. Clients influence membership
// of the candidate set, never its order.
var priority = []Encoding{Gzip, Deflate, Identity}

// Errors
var (
	ErrUnsupportedCoding = errors.New("unsupported content coding")
	ErrTooManyLayers     = errors.New("too many content encoding layers")
	ErrDecodedTooLarge   = errors.New("decoded body exceeds size limit")
)

// coding bundles the transforms for one content coding. Registering a new
// name in the table is all it takes to extend the negotiator.
type coding struct {
	encode func([]byte) ([]byte, error)
	decode func([]byte, int64) ([]byte, error)
}

// Negotiator selects and applies response compression and reverses inbound
// content encodings.
type Negotiator struct {
	codings map[Encoding]coding
}

// NewNegotiator returns a negotiator supporting gzip, deflate and identity.
func NewNegotiator() *Negotiator {
	return &Negotiator{
		codings: map[Encoding]coding{
			Gzip:     {encode: gzipEncode, decode: gzipDecode},
			Deflate:  {encode: deflateEncode, decode: deflateDecode},
			Identity: {encode: identityPass, decode: identityDecode},
		},
	}
}

// Negotiate picks the response coding for an Accept-Encoding header value:
// the first supported member of the fixed priority list that the client
// accepts. Quality values are ignored; identity is the universal fallback.
func (n *Negotiator) Negotiate(acceptEncoding string) Encoding {
	if acceptEncoding == "" {
		return Identity
	}

	accepted := make(map[Encoding]bool)
	wildcard := false
	for _, part := range strings.Split(acceptEncoding, ",") {
		name := part
		if i := strings.IndexByte(name, ';'); i >= 0 {
			name = name[:i]
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "*" {
			wildcard = true
			continue
		}
		accepted[Encoding(name)] = true
	}

	for _, enc := range priority {
		if wildcard || accepted[enc] {
			if _, ok := n.codings[enc]; ok {
				return enc
			}
		}
	}
	return Identity
}

// Encode applies enc to body. Identity returns body unchanged.
func (n *Negotiator) Encode(enc Encoding, body []byte) ([]byte, error) {
	c, ok := n.codings[enc]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCoding, enc)
	}
	return c.encode(body)
}

// Decode reverses the codings listed in a Content-Encoding header value.
// Codings are listed in application order, so they are undone in reverse.
// More than maxLayers non-identity codings rejects the body; each
// decompression is capped at maxSize bytes when maxSize is positive.
func (n *Negotiator) Decode(body []byte, contentEncoding string, maxLayers int, maxSize int64) ([]byte, error) {
	if contentEncoding == "" {
		return body, nil
	}

	var layers []Encoding
	for _, part := range strings.Split(contentEncoding, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || name == string(Identity) {
			continue
		}
		layers = append(layers, Encoding(name))
	}

	if len(layers) > maxLayers {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyLayers, len(layers), maxLayers)
	}

	for i := len(layers) - 1; i >= 0; i-- {
		c, ok := n.codings[layers[i]]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCoding, layers[i])
		}
		decoded, err := c.decode(body, maxSize)
		if err != nil {
			return nil, err
		}
		body = decoded
	}
	return body, nil
}

func gzipEncode(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecode(body []byte, maxSize int64) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	return readCapped(r, maxSize)
}

// The HTTP "deflate" coding is a zlib-wrapped stream. Some clients send raw
// deflate anyway, so decoding retries without the wrapper.
func deflateEncode(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deflateDecode(body []byte, maxSize int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		raw := flate.NewReader(bytes.NewReader(body))
		defer raw.Close()
		decoded, rawErr := readCapped(raw, maxSize)
		if rawErr != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return decoded, nil
	}
	defer r.Close()
	return readCapped(r, maxSize)
}

func identityPass(body []byte) ([]byte, error) {
	return body, nil
}

func identityDecode(body []byte, _ int64) ([]byte, error) {
	return body, nil
}

func readCapped(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > maxSize {
		return nil, ErrDecodedTooLarge
	}
	return out, nil
}
