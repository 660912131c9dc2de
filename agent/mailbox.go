package agent

import (
	"context"
	"sync"
)

// Mailbox is the handle a Space delivers envelopes to.
type Mailbox interface {
	// Deliver enqueues an envelope. It must not block on the consumer.
	Deliver(env *Envelope) error

	// Fail reports that no further envelopes can arrive, for example after
	// the broker connection was lost for good.
	Fail(err error)
}

// Queue is a channel's inbound FIFO. It is unbounded unless a capacity is
// set, in which case Deliver fails with ErrMailboxFull instead of dropping.
type Queue struct {
	mu       sync.Mutex
	items    []*Envelope
	capacity int
	closed   bool
	fatal    error

	notify   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewQueue creates a queue. A capacity of 0 means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Deliver appends env to the queue.
func (q *Queue) Deliver(env *Envelope) error {
	q.mu.Lock()
	if q.closed || q.fatal != nil {
		q.mu.Unlock()
		return ErrMailboxClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrMailboxFull
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Fail marks the queue as failed. Pop returns err once pending entries are
// exhausted.
func (q *Queue) Fail(err error) {
	q.mu.Lock()
	if q.fatal == nil && !q.closed {
		q.fatal = err
	}
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

// Pop blocks until an envelope is available, the queue is closed or failed,
// or ctx is done. A failed queue keeps reporting its error after Close.
func (q *Queue) Pop(ctx context.Context) (*Envelope, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return env, nil
		}
		// A failure outlives a later Close so the cause is not lost.
		if q.fatal != nil {
			err := q.fatal
			q.mu.Unlock()
			return nil, err
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrMailboxClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity, 0 when unbounded.
func (q *Queue) Cap() int {
	return q.capacity
}

// Close discards pending envelopes and rejects further deliveries.
// It returns the number of envelopes discarded.
func (q *Queue) Close() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.closed = true
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
	return n
}
