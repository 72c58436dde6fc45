package connection

import "sync"

// QueueState is the backpressure state of one connection's outbound path.
type QueueState string

const (
	// StateReady means the transport is keeping up; sends write through.
	StateReady QueueState = "ready"

	// StateBuffering means the transport is saturated; sends append to
	// the pending queue until a drain empties it.
	StateBuffering QueueState = "buffering"

	// StateOverflowed is terminal: the pending queue exceeded its bound
	// and the connection must be closed.
	StateOverflowed QueueState = "overflowed"
)

// Queue applies the backpressure policy to one connection's outbound frames.
//
// Frames write through while the transport's buffered amount is under the
// write threshold and nothing is pending. Once the transport saturates,
// frames queue FIFO; they leave the queue only when the transport signals
// renewed capacity via Drain. A queue that grows past maxPending overflows,
// which is terminal for the connection.
//
// Send and Drain serialize on the queue mutex, so frames for one connection
// never interleave regardless of which goroutine initiates the write.
type Queue struct {
	transport      Transport
	writeThreshold int
	maxPending     int

	mu      sync.Mutex
	state   QueueState
	pending [][]byte
}

// NewQueue returns a ready queue bound to one transport.
func NewQueue(t Transport, writeThreshold, maxPending int) *Queue {
	if writeThreshold <= 0 {
		writeThreshold = DefaultWriteThreshold
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Queue{
		transport:      t,
		writeThreshold: writeThreshold,
		maxPending:     maxPending,
		state:          StateReady,
	}
}

// Send transmits frame immediately when the transport has capacity, queues
// it when saturated, and returns ErrOverflow once the pending queue would
// exceed its bound. An ErrOverflow return means the caller must close the
// connection; the queue accepts nothing afterwards.
func (q *Queue) Send(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateOverflowed {
		return ErrOverflow
	}

	// Immediate path: nothing pending keeps frames FIFO even when the
	// transport drained between sends.
	if len(q.pending) == 0 && q.transport.BufferedAmount() < q.writeThreshold {
		return q.transport.Write(frame)
	}

	if len(q.pending) >= q.maxPending {
		q.state = StateOverflowed
		q.pending = nil
		return ErrOverflow
	}

	q.pending = append(q.pending, frame)
	q.state = StateBuffering
	return nil
}

// Drain flushes pending frames in order after the transport signals renewed
// capacity. It stops at the first of: queue empty, transport saturated
// again, or transport write failure. Drain is only ever triggered by the
// transport's capacity notification, never by timers or new sends.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateBuffering {
		return
	}

	for len(q.pending) > 0 && q.transport.BufferedAmount() < q.writeThreshold {
		frame := q.pending[0]
		q.pending = q.pending[1:]
		if err := q.transport.Write(frame); err != nil {
			// Transport is gone; the close path tears the rest down.
			q.pending = nil
			q.state = StateReady
			return
		}
	}

	if len(q.pending) == 0 {
		q.pending = nil
		q.state = StateReady
	}
}

// State returns the current backpressure state.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// PendingLen returns the number of queued frames.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
