package connection

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

// fakeTransport records writes and lets tests steer the buffered amount.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	buffered int
	perWrite int // added to buffered after each write
	writeErr error
	closed   bool
	code     int
	reason   string
}

func (f *fakeTransport) Write(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.writes = append(f.writes, cp)
	f.buffered += f.perWrite
	return nil
}

func (f *fakeTransport) BufferedAmount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "203.0.113.9:51412" }

func (f *fakeTransport) setBuffered(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = n
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestQueueImmediateWrite(t *testing.T) {
	ft := &fakeTransport{}
	q := NewQueue(ft, 4096, 50)

	if err := q.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := ft.writeCount(); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
	if q.State() != StateReady {
		t.Errorf("state = %v, want %v", q.State(), StateReady)
	}
	if q.PendingLen() != 0 {
		t.Errorf("pending = %d, want 0", q.PendingLen())
	}
}

func TestQueueBuffersWhenSaturated(t *testing.T) {
	ft := &fakeTransport{buffered: 4096}
	q := NewQueue(ft, 4096, 50)

	if err := q.Send([]byte("queued")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := ft.writeCount(); got != 0 {
		t.Errorf("writes = %d, want 0 while saturated", got)
	}
	if q.State() != StateBuffering {
		t.Errorf("state = %v, want %v", q.State(), StateBuffering)
	}
	if q.PendingLen() != 1 {
		t.Errorf("pending = %d, want 1", q.PendingLen())
	}
}

func TestQueueDrainFIFO(t *testing.T) {
	ft := &fakeTransport{buffered: 4096}
	q := NewQueue(ft, 4096, 50)

	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, f := range frames {
		if err := q.Send(f); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	ft.setBuffered(0)
	q.Drain()

	if got := ft.writeCount(); got != len(frames) {
		t.Fatalf("writes = %d, want %d", got, len(frames))
	}
	for i, want := range frames {
		if !bytes.Equal(ft.writes[i], want) {
			t.Errorf("write %d = %q, want %q", i, ft.writes[i], want)
		}
	}
	if q.State() != StateReady {
		t.Errorf("state = %v, want %v after full drain", q.State(), StateReady)
	}
}

func TestQueueDrainStopsOnRenewedSaturation(t *testing.T) {
	ft := &fakeTransport{buffered: 4096}
	q := NewQueue(ft, 4096, 50)

	for i := 0; i < 3; i++ {
		if err := q.Send([]byte{byte('a' + i)}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	// Capacity for exactly one write, then the transport saturates again.
	ft.mu.Lock()
	ft.buffered = 0
	ft.perWrite = 4096
	ft.mu.Unlock()

	q.Drain()

	if got := ft.writeCount(); got != 1 {
		t.Errorf("writes = %d, want 1 before renewed saturation", got)
	}
	if q.State() != StateBuffering {
		t.Errorf("state = %v, want %v", q.State(), StateBuffering)
	}
	if q.PendingLen() != 2 {
		t.Errorf("pending = %d, want 2", q.PendingLen())
	}
}

func TestQueueFIFOAcrossDrainAndSend(t *testing.T) {
	ft := &fakeTransport{buffered: 4096}
	q := NewQueue(ft, 4096, 50)

	if err := q.Send([]byte("first")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Transport drained, but no drain notification fired yet. A new send
	// must queue behind the pending frame, not jump ahead of it.
	ft.setBuffered(0)
	if err := q.Send([]byte("second")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := ft.writeCount(); got != 0 {
		t.Fatalf("writes = %d, want 0 before drain notification", got)
	}

	q.Drain()
	if got := ft.writeCount(); got != 2 {
		t.Fatalf("writes = %d, want 2", got)
	}
	if !bytes.Equal(ft.writes[0], []byte("first")) || !bytes.Equal(ft.writes[1], []byte("second")) {
		t.Errorf("writes out of order: %q, %q", ft.writes[0], ft.writes[1])
	}
}

func TestQueueOverflowBoundary(t *testing.T) {
	ft := &fakeTransport{buffered: 4096}
	q := NewQueue(ft, 4096, 50)

	// 50 pending entries are fine.
	for i := 0; i < 50; i++ {
		if err := q.Send([]byte("frame")); err != nil {
			t.Fatalf("Send %d failed: %v", i+1, err)
		}
	}
	if q.State() != StateBuffering {
		t.Fatalf("state = %v, want %v at the bound", q.State(), StateBuffering)
	}

	// The 51st overflows.
	if err := q.Send([]byte("one too many")); !errors.Is(err, ErrOverflow) {
		t.Fatalf("Send 51 error = %v, want ErrOverflow", err)
	}
	if q.State() != StateOverflowed {
		t.Errorf("state = %v, want %v", q.State(), StateOverflowed)
	}

	// Overflow is terminal.
	if err := q.Send([]byte("after")); !errors.Is(err, ErrOverflow) {
		t.Errorf("Send after overflow error = %v, want ErrOverflow", err)
	}
	ft.setBuffered(0)
	q.Drain()
	if got := ft.writeCount(); got != 0 {
		t.Errorf("writes after overflow = %d, want 0", got)
	}
}

func TestQueueSendToDeadTransport(t *testing.T) {
	ft := &fakeTransport{writeErr: ErrClosed}
	q := NewQueue(ft, 4096, 50)

	if err := q.Send([]byte("frame")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send error = %v, want ErrClosed", err)
	}
}
