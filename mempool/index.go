// Package mempool maintains the canonical deduplicated view of unconfirmed
// transactions with bounded memory.  All mutations are applied by a single
// owner goroutine fed from the shared ingestion channel, so the hot path
// needs no locking; readers get consistent point-in-time snapshots.
package mempool

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	otelapi "go.opentelemetry.io/otel/metric"

	"github.com/pool-sentry/sentry/metrics"
	"github.com/pool-sentry/sentry/types"
)

type InsertOutcome uint8

const (
	// OutcomeUnknown means the sighting never reached the owner loop; it
	// only ever accompanies a non-nil error.
	OutcomeUnknown InsertOutcome = iota
	Inserted
	DuplicateIgnored
)

// Sink receives mempool events.  Publish must never block; the broadcast
// hub satisfies this by construction.
type Sink interface {
	Publish(types.Event)
}

type Config struct {
	TTL               time.Duration
	ConfirmationGrace time.Duration
	MaxEntries        int
	SweepInterval     time.Duration
}

// state holds the index data.  It is only ever touched by the owner loop
// (or directly by tests); none of its methods are safe for concurrent use.
type state struct {
	cfg   *Config
	sink  Sink
	stats *stats

	entries map[ethcommon.Hash]*entry
	expiry  expiryHeap
}

// stats are written by the owner loop and read by the metrics observer.
type stats struct {
	size             atomic.Int64
	evictedTTL       atomic.Int64
	evictedConfirmed atomic.Int64
	evictedCapacity  atomic.Int64
}

func newState(cfg *Config, sink Sink, st *stats) *state {
	return &state{
		cfg:     cfg,
		sink:    sink,
		stats:   st,
		entries: make(map[ethcommon.Hash]*entry),
		expiry:  make(expiryHeap, 0),
	}
}

// observe inserts a first sighting and ignores duplicates.  First-seen time
// rules the TTL: a duplicate from a second upstream connection never
// restarts the eviction timer.
func (s *state) observe(tx *types.PendingTransaction, now time.Time) InsertOutcome {
	if _, exists := s.entries[tx.Hash]; exists {
		return DuplicateIgnored
	}

	if s.cfg.MaxEntries > 0 && len(s.entries) >= s.cfg.MaxEntries {
		s.relieveCapacityPressure(now)
	}

	e := &entry{
		tx:       tx,
		deadline: tx.FirstSeen.Add(s.cfg.TTL),
	}
	s.entries[tx.Hash] = e
	heap.Push(&s.expiry, e)

	s.sink.Publish(types.Event{
		Type: types.EventPendingTransaction,
		At:   now,
		Tx:   tx,
	})

	return Inserted
}

// confirm flips the confirmed marker and reschedules the entry for prompt
// removal after the grace period.  Idempotent; a no-op for unknown hashes.
func (s *state) confirm(hash ethcommon.Hash, now time.Time) {
	e, exists := s.entries[hash]
	if !exists || e.tx.Confirmed {
		return
	}

	e.tx.Confirmed = true
	grace := now.Add(s.cfg.ConfirmationGrace)
	if grace.Before(e.deadline) {
		e.deadline = grace
		heap.Fix(&s.expiry, e.heapIndex)
	}

	s.sink.Publish(types.Event{
		Type: types.EventTransactionConfirmed,
		At:   now,
		Tx:   e.tx,
	})
}

// sweep removes every entry whose deadline has passed.  Cost is
// O(expired count): only the ordered prefix of the expiry heap is touched.
func (s *state) sweep(now time.Time) int {
	removed := 0
	for len(s.expiry) > 0 {
		e := s.expiry[0]
		if e.deadline.After(now) {
			break
		}

		heap.Pop(&s.expiry)
		delete(s.entries, e.tx.Hash)
		removed++

		if e.tx.Confirmed {
			s.stats.evictedConfirmed.Add(1)
			continue // confirmation was already published
		}
		s.stats.evictedTTL.Add(1)
		s.sink.Publish(types.Event{
			Type: types.EventTransactionExpired,
			At:   now,
			Tx:   e.tx,
		})
	}
	return removed
}

// relieveCapacityPressure evicts the soonest-to-expire entries ahead of
// schedule instead of growing without bound.
func (s *state) relieveCapacityPressure(now time.Time) {
	evicted := 0
	for len(s.entries) >= s.cfg.MaxEntries && len(s.expiry) > 0 {
		e := heap.Pop(&s.expiry).(*entry)
		delete(s.entries, e.tx.Hash)
		evicted++

		if !e.tx.Confirmed {
			s.sink.Publish(types.Event{
				Type: types.EventTransactionExpired,
				At:   now,
				Tx:   e.tx,
			})
		}
	}

	s.stats.evictedCapacity.Add(int64(evicted))
	s.sink.Publish(types.Event{
		Type: types.EventCapacityPressure,
		At:   now,
		Pressure: &types.CapacityPressureEvent{
			MaxEntries: s.cfg.MaxEntries,
			Evicted:    evicted,
		},
	})
}

func (s *state) snapshot() []types.PendingTransaction {
	res := make([]types.PendingTransaction, 0, len(s.entries))
	for _, e := range s.entries {
		res = append(res, *e.tx)
	}
	return res
}

// Index is the owner-loop wrapper around state.  All access goes through
// the command channel, which serializes mutations with the notification
// stream.
type Index struct {
	cfg  *Config
	sink Sink

	cmds  chan func(*state, time.Time)
	stats *stats

	// onHeader, when set, is invoked by the owner loop for every header
	// notification; it must not block.
	onHeader func(types.BlockHeader)

	done chan struct{}
}

func New(cfg *Config, sink Sink) *Index {
	return &Index{
		cfg:   cfg,
		sink:  sink,
		cmds:  make(chan func(*state, time.Time), 64),
		stats: &stats{},
		done:  make(chan struct{}),
	}
}

func (ix *Index) OnHeader(fn func(types.BlockHeader)) {
	ix.onHeader = fn
}

// Run consumes the shared ingestion channel until ctx is cancelled.  It is
// the single writer of the index.
func (ix *Index) Run(ctx context.Context, notifications <-chan types.Notification) {
	go func() {
		defer close(ix.done)

		s := newState(ix.cfg, ix.sink, ix.stats)
		ticker := time.NewTicker(ix.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case n, ok := <-notifications:
				if !ok {
					return
				}
				ix.ingest(s, n)
				ix.stats.size.Store(int64(len(s.entries)))

			case cmd := <-ix.cmds:
				cmd(s, time.Now())
				ix.stats.size.Store(int64(len(s.entries)))

			case now := <-ticker.C:
				s.sweep(now)
				ix.stats.size.Store(int64(len(s.entries)))
			}
		}
	}()
}

func (ix *Index) ingest(s *state, n types.Notification) {
	switch n.Kind {
	case types.KindPendingTransactions:
		if n.Tx != nil {
			s.observe(n.Tx, n.ReceivedAt)
		}

	case types.KindNewHeaders:
		if n.Header == nil {
			return
		}
		s.sink.Publish(types.Event{
			Type:   types.EventNewHeader,
			At:     n.ReceivedAt,
			Header: n.Header,
		})
		if ix.onHeader != nil {
			ix.onHeader(*n.Header)
		}
	}
}

// Observe applies a sighting synchronously via the owner loop.
func (ix *Index) Observe(ctx context.Context, tx *types.PendingTransaction) (InsertOutcome, error) {
	reply := make(chan InsertOutcome, 1)
	err := ix.submit(ctx, func(s *state, now time.Time) {
		reply <- s.observe(tx, now)
	})
	if err != nil {
		return OutcomeUnknown, err
	}
	select {
	case outcome := <-reply:
		return outcome, nil
	case <-ctx.Done():
		return OutcomeUnknown, ctx.Err()
	case <-ix.done:
		return OutcomeUnknown, context.Canceled
	}
}

// Confirm marks a transaction as included in a block; removal follows after
// the configured grace period.
func (ix *Index) Confirm(ctx context.Context, hash ethcommon.Hash) error {
	return ix.submit(ctx, func(s *state, now time.Time) {
		s.confirm(hash, now)
	})
}

// Snapshot returns a point-in-time copy consistent with the most recent
// completed mutation.
func (ix *Index) Snapshot(ctx context.Context) ([]types.PendingTransaction, error) {
	reply := make(chan []types.PendingTransaction, 1)
	err := ix.submit(ctx, func(s *state, _ time.Time) {
		reply <- s.snapshot()
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ix.done:
		return nil, context.Canceled
	}
}

func (ix *Index) submit(ctx context.Context, cmd func(*state, time.Time)) error {
	select {
	case ix.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-ix.done:
		return context.Canceled
	}
}

// ObserveMetrics reports the index gauges and eviction counters; registered
// by the server as an otel metrics callback.
func (ix *Index) ObserveMetrics(ctx context.Context, o otelapi.Observer) error {
	o.ObserveInt64(metrics.MempoolSize, ix.stats.size.Load())

	for reason, counter := range map[string]*atomic.Int64{
		"ttl":       &ix.stats.evictedTTL,
		"confirmed": &ix.stats.evictedConfirmed,
		"capacity":  &ix.stats.evictedCapacity,
	} {
		o.ObserveInt64(metrics.MempoolEvictedCount, counter.Load(), otelapi.WithAttributes(
			attribute.KeyValue{Key: "reason", Value: attribute.StringValue(reason)},
		))
	}

	return nil
}
