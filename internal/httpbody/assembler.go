package httpbody

import (
	"bytes"
	"errors"
)

// Errors
var (
	ErrTooLarge           = errors.New("request body exceeds size limit")
	ErrFileTooLarge       = errors.New("form file exceeds size limit")
	ErrMalformed          = errors.New("malformed request body")
	ErrUnsupportedType    = errors.New("unsupported content type")
	ErrUnsupportedCharset = errors.New("unsupported charset")
)

// Assembler accumulates a streamed request body chunk by chunk.
//
// The size limit is enforced incrementally against the bytes actually
// received: a body whose declared Content-Length fits the limit still fails
// the moment its accumulated size exceeds it.
type Assembler struct {
	max int64
	buf bytes.Buffer
}

// NewAssembler returns an assembler enforcing max accumulated bytes.
// A max of 0 or below disables the limit.
func NewAssembler(max int64) *Assembler {
	return &Assembler{max: max}
}

// Write appends one chunk, returning ErrTooLarge once the accumulated size
// would exceed the limit. Implements io.Writer so bodies stream in via
// io.Copy.
func (a *Assembler) Write(p []byte) (int, error) {
	if a.max > 0 && int64(a.buf.Len())+int64(len(p)) > a.max {
		return 0, ErrTooLarge
	}
	return a.buf.Write(p)
}

// Bytes returns the assembled body.
func (a *Assembler) Bytes() []byte {
	return a.buf.Bytes()
}

// Size returns the accumulated byte count.
func (a *Assembler) Size() int64 {
	return int64(a.buf.Len())
}
