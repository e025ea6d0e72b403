package engine

import "sync"

// event is anything the Run loop can apply. name is used in logs.
type event interface {
	name() string
}

// eventQueue is an unbounded, thread-safe FIFO of events.
//
// Public engine methods and backend goroutines enqueue; only Run dequeues.
// It is unbounded so a completion never blocks the goroutine that produced it.
// A buffered signal channel lets Run wait on the queue alongside the ticker
// and context in a single select.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 32),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends ev. Returns false once the queue is closed, which is how
// completions arriving after shutdown are dropped.
func (q *eventQueue) Enqueue(ev event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, ev)

	// Coalesce: one pending signal is enough to wake Run.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	ev := q.events[0]
	q.events[0] = nil // release for GC
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return ev, true
}

// Wait returns a channel that fires when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close refuses further events and wakes waiters. Queued events are dropped.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for i := range q.events {
		q.events[i] = nil
	}
	q.events = q.events[:0]
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
