// Package broadcast fans deduplicated mempool events and verification
// results out to any number of local subscribers.  Each subscriber owns an
// independent bounded queue, so a slow consumer can never gate the producer
// or its peers; queues never reference each other and no global ordering is
// promised across subscribers.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	otelapi "go.opentelemetry.io/otel/metric"

	"github.com/pool-sentry/sentry/metrics"
	"github.com/pool-sentry/sentry/types"
)

type Policy string

const (
	// PolicyDropOldest discards a lagging subscriber's oldest unread event
	// to make room for the new one.
	PolicyDropOldest Policy = "drop-oldest"
	// PolicyDisconnect drops the lagging subscriber altogether.
	PolicyDisconnect Policy = "disconnect"
)

type Config struct {
	QueueDepth int
	Policy     Policy
}

type Hub struct {
	cfg *Config

	mx   sync.RWMutex
	subs map[uuid.UUID]*Subscriber

	published    atomic.Int64
	dropped      atomic.Int64
	disconnected atomic.Int64
}

func NewHub(cfg *Config) *Hub {
	return &Hub{
		cfg:  cfg,
		subs: make(map[uuid.UUID]*Subscriber),
	}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		id:    uuid.New(),
		hub:   h,
		queue: newQueue(h.cfg.QueueDepth),
		ready: make(chan struct{}, 1),
	}

	h.mx.Lock()
	h.subs[s.id] = s
	h.mx.Unlock()

	return s
}

// Publish delivers ev to every live subscriber and never blocks: a full
// queue costs the owning subscriber (per policy), not the producer.
func (h *Hub) Publish(ev types.Event) {
	h.published.Add(1)

	var victims []*Subscriber

	h.mx.RLock()
	for _, s := range h.subs {
		disconnect, droppedOldest := s.offer(ev, h.cfg.Policy)
		if disconnect {
			victims = append(victims, s)
		}
		if droppedOldest {
			h.dropped.Add(1)
		}
	}
	h.mx.RUnlock()

	for _, s := range victims {
		h.disconnectSlow(s)
	}
}

func (h *Hub) disconnectSlow(s *Subscriber) {
	if !h.remove(s.id) {
		return
	}
	h.disconnected.Add(1)
	backlog := s.queueLength()
	s.close(ErrSlowConsumer)

	h.Publish(types.Event{
		Type: types.EventSlowConsumerDisconnected,
		At:   time.Now(),
		Subscriber: &types.SubscriberEvent{
			ID:      s.id.String(),
			Dropped: backlog,
		},
	})
}

func (h *Hub) remove(id uuid.UUID) bool {
	h.mx.Lock()
	defer h.mx.Unlock()

	if _, exists := h.subs[id]; !exists {
		return false
	}
	delete(h.subs, id)
	return true
}

func (h *Hub) subscribersCount() int {
	h.mx.RLock()
	defer h.mx.RUnlock()

	return len(h.subs)
}

// Close disconnects every subscriber; subsequent publishes are no-ops with
// no one left to hear them.
func (h *Hub) Close() {
	h.mx.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[uuid.UUID]*Subscriber)
	h.mx.Unlock()

	for _, s := range subs {
		s.close(ErrSubscriberClosed)
	}
}

// ObserveMetrics reports hub gauges and counters; registered by the server
// as an otel metrics callback.
func (h *Hub) ObserveMetrics(ctx context.Context, o otelapi.Observer) error {
	o.ObserveInt64(metrics.BroadcastSubscribersCount, int64(h.subscribersCount()))
	o.ObserveInt64(metrics.BroadcastPublishedCount, h.published.Load())
	o.ObserveInt64(metrics.BroadcastDroppedCount, h.dropped.Load())
	o.ObserveInt64(metrics.BroadcastDisconnectsCount, h.disconnected.Load())

	return nil
}
