package broadcast

import (
	"github.com/pool-sentry/sentry/types"
)

// queue is a fixed-capacity FIFO ring.  Unlike a grow-able ring buffer it
// never allocates after construction: when full, the caller either refuses
// the push or trades the oldest element for the new one.
type queue struct {
	buf []types.Event

	head int
	tail int
	size int
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 16
	}
	return &queue{
		buf: make([]types.Event, capacity),
	}
}

func (q *queue) length() int {
	return q.size
}

func (q *queue) full() bool {
	return q.size == len(q.buf)
}

// push appends value; returns false when the queue is full.
func (q *queue) push(value types.Event) bool {
	if q.full() {
		return false
	}

	q.buf[q.head] = value
	q.head++
	if q.head == len(q.buf) {
		q.head = 0
	}
	q.size++

	return true
}

// pushDropOldest appends value, discarding the oldest element first when the
// queue is full.  Returns true if an element was discarded.
func (q *queue) pushDropOldest(value types.Event) bool {
	dropped := false
	if q.full() {
		_, _ = q.pop()
		dropped = true
	}
	q.push(value)
	return dropped
}

func (q *queue) pop() (types.Event, bool) {
	if q.size == 0 {
		return types.Event{}, false
	}

	v := q.buf[q.tail]
	q.buf[q.tail] = types.Event{}
	q.tail++
	if q.tail == len(q.buf) {
		q.tail = 0
	}
	q.size--

	return v, true
}
