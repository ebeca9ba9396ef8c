package bridge

import (
	"sync"
	"sync/atomic"
)

// Bridge is an unbounded FIFO that hands messages from worker goroutines and
// BLE callbacks to the UI loop.
//
// Producers call Post from any goroutine; messages from one producer keep their
// order. The UI loop calls Drain once per tick, or when Ready fires. Nothing is
// ever dropped while the bridge is open; once closed, Post rejects and reports false
// so that late callbacks after teardown are discarded.
//
//	b := bridge.New[Message]()
//	go func() { b.Post(msg) }()
//	b.Drain(func(m Message) { handle(m) })
type Bridge[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool
	ready  chan struct{}

	metrics Metrics
}

// New creates an open bridge.
func New[T any]() *Bridge[T] {
	return &Bridge[T]{ready: make(chan struct{}, 1)}
}

// Post enqueues v. Returns false if the bridge is closed.
func (b *Bridge[T]) Post(v T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.metrics.addRejected(1)
		return false
	}
	b.queue = append(b.queue, v)
	b.mu.Unlock()

	b.metrics.addPosted(1)
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready fires after a Post when the queue may be non-empty.
func (b *Bridge[T]) Ready() <-chan struct{} {
	return b.ready
}

// Drain delivers every queued message in FIFO order and returns how many were delivered.
// Messages posted while fn runs are left for the next Drain.
func (b *Bridge[T]) Drain(fn func(T)) int {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, v := range batch {
		fn(v)
	}
	b.metrics.addDelivered(len(batch))
	return len(batch)
}

// Len returns the number of queued messages.
func (b *Bridge[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close rejects further posts. Queued messages are discarded.
func (b *Bridge[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.metrics.addDiscarded(len(b.queue))
	b.queue = nil
}

// Closed reports whether Close was called.
func (b *Bridge[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// GetMetrics returns a snapshot of current metrics values.
func (b *Bridge[T]) GetMetrics() Metrics {
	return Metrics{
		Posted:    atomic.LoadInt64(&b.metrics.Posted),
		Delivered: atomic.LoadInt64(&b.metrics.Delivered),
		Rejected:  atomic.LoadInt64(&b.metrics.Rejected),
		Discarded: atomic.LoadInt64(&b.metrics.Discarded),
	}
}

// Metrics provides lock-free counters for a Bridge.
type Metrics struct {
	Posted    int64
	Delivered int64
	Rejected  int64 // posts after Close
	Discarded int64 // queued when Close ran
}

func (m *Metrics) addPosted(n int)    { atomic.AddInt64(&m.Posted, int64(n)) }
func (m *Metrics) addDelivered(n int) { atomic.AddInt64(&m.Delivered, int64(n)) }
func (m *Metrics) addRejected(n int)  { atomic.AddInt64(&m.Rejected, int64(n)) }
func (m *Metrics) addDiscarded(n int) { atomic.AddInt64(&m.Discarded, int64(n)) }
