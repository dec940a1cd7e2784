// internal/protocol/nori/queue.go
package nori

import (
	"sync"

	"go.uber.org/zap"
)

// Transport is the byte pipe to the board. Write and Drain must not block the
// caller; completion is reported through the callbacks.
type Transport interface {
	Write(data []byte, onComplete func(error))
	Drain(onDrained func())
	Close() error
}

// SendQueue holds encoded buffers and hands them to the transport one at a
// time: a buffer is only written once the previous write has completed and
// the transport has signalled drain.
type SendQueue struct {
	mu        sync.Mutex
	buffers   [][]byte
	draining  bool
	transport Transport
	// generation invalidates callbacks from a transport that was detached
	generation uint64

	observer Observer
	logger   *zap.Logger
}

// NewSendQueue creates an empty queue with no transport attached
func NewSendQueue(observer Observer, logger *zap.Logger) *SendQueue {
	if observer == nil {
		observer = NopObserver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendQueue{
		observer: observer,
		logger:   logger,
	}
}

// Attach sets the transport buffers are written to
func (q *SendQueue) Attach(t Transport) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.transport = t
	q.draining = false
	q.generation++
}

// Detach drops the transport and every queued buffer
func (q *SendQueue) Detach() {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.buffers)
	q.transport = nil
	q.buffers = nil
	q.draining = false
	q.generation++
	q.observer.QueueDepth(0)

	if dropped > 0 {
		q.logger.Debug("Queued buffers discarded", zap.Int("count", dropped))
	}
}

// Enqueue appends a buffer. Empty buffers are ignored.
func (q *SendQueue) Enqueue(buf []byte) {
	if len(buf) == 0 {
		return
	}
	q.mu.Lock()
	q.buffers = append(q.buffers, buf)
	q.observer.QueueDepth(len(q.buffers))
	q.mu.Unlock()
}

// Pump starts a write of the oldest buffer if none is outstanding.
// It reports whether a write was started.
func (q *SendQueue) Pump() bool {
	q.mu.Lock()
	if q.draining || q.transport == nil || len(q.buffers) == 0 {
		q.mu.Unlock()
		return false
	}

	buf := q.buffers[0]
	q.buffers[0] = nil
	q.buffers = q.buffers[1:]
	q.draining = true
	t := q.transport
	gen := q.generation
	q.observer.QueueDepth(len(q.buffers))
	q.mu.Unlock()

	t.Write(buf, func(err error) {
		q.observer.BytesWritten(len(buf), err)
		if err != nil {
			q.logger.Warn("Transport write failed", zap.Error(err), zap.Int("bytes", len(buf)))
			q.release(gen)
			return
		}
		t.Drain(func() {
			q.release(gen)
		})
	})
	return true
}

// release clears the outstanding flag and moves on to the next buffer
func (q *SendQueue) release(gen uint64) {
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return
	}
	q.draining = false
	q.mu.Unlock()

	q.Pump()
}

// Len is the number of buffers waiting
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers)
}

// InFlight reports whether a write is outstanding
func (q *SendQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}
