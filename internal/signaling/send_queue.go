package signaling

import (
	"sync"
	"sync/atomic"
)

// sendQueue is a bounded FIFO of outbound events for one connection.
//
// The coordinator enqueues while holding a room lock, so Send never blocks: a
// full queue drops the event. A single writer goroutine drains it.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxEvents int
	events    []Event

	drops  atomic.Uint64
	onDrop func()
}

func newSendQueue(maxEvents int, onDrop func()) *sendQueue {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	q := &sendQueue{maxEvents: maxEvents, onDrop: onDrop}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Send implements registry.Outbox.
func (q *sendQueue) Send(msg any) bool {
	ev, ok := msg.(Event)
	if !ok {
		q.drop()
		return false
	}

	q.mu.Lock()
	if q.closed || len(q.events) >= q.maxEvents {
		q.mu.Unlock()
		q.drop()
		return false
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.notEmpty.Signal()
	return true
}

func (q *sendQueue) drop() {
	q.drops.Add(1)
	if q.onDrop != nil {
		q.onDrop()
	}
}

// Dequeue blocks until an event is available. After Close it keeps returning
// the events queued before Close, then reports false.
func (q *sendQueue) Dequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	return ev, true
}

// Close rejects further sends and wakes the writer.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Discard drops every queued event; used when the socket is already gone.
func (q *sendQueue) Discard() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
