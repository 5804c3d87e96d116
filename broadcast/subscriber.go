package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/pool-sentry/sentry/types"
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSlowConsumer     = errors.New("subscriber disconnected for falling behind")
)

// Subscriber is one independent consumer of the hub.  Events arrive in
// publish order; the queue is bounded by the hub's configured depth.
type Subscriber struct {
	id  uuid.UUID
	hub *Hub

	mx       sync.Mutex
	queue    *queue
	closed   bool
	closeErr error

	// ready is a 1-buffered wakeup signal for Next
	ready chan struct{}
}

func (s *Subscriber) ID() string {
	return s.id.String()
}

// Next blocks until an event is available, the context is done, or the
// subscriber is closed.
func (s *Subscriber) Next(ctx context.Context) (types.Event, error) {
	for {
		s.mx.Lock()
		ev, ok := s.queue.pop()
		closed, closeErr := s.closed, s.closeErr
		s.mx.Unlock()

		if ok {
			return ev, nil
		}
		if closed {
			return types.Event{}, closeErr
		}

		select {
		case <-ctx.Done():
			return types.Event{}, ctx.Err()
		case <-s.ready:
			// re-check the queue
		}
	}
}

// Close unsubscribes; the queue's remaining contents are discarded.
func (s *Subscriber) Close() {
	s.hub.remove(s.id)
	s.close(ErrSubscriberClosed)
}

func (s *Subscriber) close(reason error) {
	s.mx.Lock()
	if !s.closed {
		s.closed = true
		s.closeErr = reason
		s.queue = newQueue(1) // discard the backlog
	}
	s.mx.Unlock()

	s.wake()
}

// offer enqueues ev without ever blocking.  When the queue is full it either
// trades away the oldest event or reports that the subscriber should be
// disconnected, per policy.
func (s *Subscriber) offer(ev types.Event, policy Policy) (disconnect, droppedOldest bool) {
	s.mx.Lock()
	defer s.wake()
	defer s.mx.Unlock()

	if s.closed {
		return false, false
	}

	if !s.queue.full() {
		s.queue.push(ev)
		return false, false
	}

	if policy == PolicyDisconnect {
		return true, false
	}

	s.queue.pushDropOldest(ev)
	return false, true
}

func (s *Subscriber) queueLength() int {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.queue.length()
}

func (s *Subscriber) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
