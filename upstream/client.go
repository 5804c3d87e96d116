// Package upstream sustains subscription connections to remote nodes and
// normalizes their push messages into typed notifications.  Connection loss
// is absorbed internally: the client reconnects with capped exponential
// backoff, re-issues its subscriptions, and marks the gap it cannot account
// for, surfacing state changes only as advisory events.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/fasthttp/websocket"
	"go.opentelemetry.io/otel/attribute"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pool-sentry/sentry/jrpc"
	"github.com/pool-sentry/sentry/metrics"
	"github.com/pool-sentry/sentry/types"
	"github.com/pool-sentry/sentry/utils"
)

// maxConsecutiveDecodeFailures forces a reconnect: a stream this garbled is
// treated as desynchronized rather than merely noisy.
const maxConsecutiveDecodeFailures = 3

var (
	ErrUnreachable = errors.New("endpoint unreachable")

	errSubscriptionRejected = errors.New("subscription rejected")
	errDesynchronized       = errors.New("too many consecutive decode failures")
	errConnectionReset      = errors.New("connection reset while call was pending")
	errNotConnected         = errors.New("not connected")
)

// Sink receives advisory events; Publish must never block.
type Sink interface {
	Publish(types.Event)
}

type Config struct {
	Endpoint     string
	Kinds        []types.SubscriptionKind
	DialTimeout  time.Duration
	DialAttempts uint
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	CallTimeout  time.Duration
}

type Client struct {
	cfg    *Config
	logger *zap.Logger

	dialer        *websocket.Dialer
	notifications chan<- types.Notification
	sink          Sink

	mxConn sync.Mutex // guards conn and all writes to it
	conn   *websocket.Conn

	mxPending sync.Mutex
	pending   map[uint64]chan *jrpc.Response
	nextID    atomic.Uint64

	mxSubs sync.Mutex
	subs   map[string]types.SubscriptionKind

	// read-loop state, owned by the pump goroutine
	seq               uint64
	lastBlock         uint64
	pendingGapUnknown bool
	decodeFailures    int

	stats stats

	done chan struct{}
}

type stats struct {
	notifications  atomic.Int64
	decodeFailures atomic.Int64
	reconnects     atomic.Int64
	gaps           atomic.Int64
}

func NewClient(
	cfg *Config,
	notifications chan<- types.Notification,
	sink Sink,
) *Client {
	return &Client{
		cfg:    cfg,
		logger: zap.L().With(zap.String("upstream_endpoint", cfg.Endpoint)),

		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},

		notifications: notifications,
		sink:          sink,

		pending: make(map[uint64]chan *jrpc.Response),
		subs:    make(map[string]types.SubscriptionKind),

		done: make(chan struct{}),
	}
}

// Connect establishes the connection and its subscriptions, retrying a
// bounded number of times back to back.  Failure means the endpoint is
// unreachable; transient faults after a successful Connect are handled by
// Run's reconnect loop instead.
func (c *Client) Connect(ctx context.Context) error {
	err := retry.Do(
		func() error { return c.dialAndSubscribe(ctx) },
		retry.Context(ctx),
		retry.Attempts(c.cfg.DialAttempts),
		retry.Delay(c.cfg.BackoffMin),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, c.cfg.Endpoint, err)
	}

	c.advise(types.StateConnected, nil)
	return nil
}

// Run owns the read loop.  It only ever returns via context cancellation;
// everything the network throws at it is absorbed and retried.
func (c *Client) Run(ctx context.Context, failure chan<- error) {
	go func() {
		defer close(c.done)

		l := c.logger

		for {
			err := c.pump(ctx)
			c.teardown()

			if ctx.Err() != nil {
				return
			}

			c.advise(types.StateDisconnected, err)
			l.Warn("Upstream connection lost; reconnecting...",
				zap.Error(err),
			)

			c.stats.reconnects.Add(1)
			metrics.UpstreamReconnectsCount.Add(ctx, 1, otelapi.WithAttributes(
				attribute.KeyValue{Key: "endpoint", Value: attribute.StringValue(c.cfg.Endpoint)},
			))

			if err := c.redial(ctx); err != nil {
				if ctx.Err() == nil {
					failure <- err
				}
				return
			}

			c.advise(types.StateResubscribed, nil)
			l.Info("Upstream connection re-established")
		}
	}()
}

// Stop tears the connection down and cancels the reconnect cycle via the
// context passed to Run.
func (c *Client) Stop() {
	c.teardown()
	<-c.done
}

func (c *Client) dialAndSubscribe(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return err
	}

	// subscription handshakes are done synchronously before the pump starts;
	// a kind subscribed earlier can already push frames while a later
	// handshake is still draining the connection, and those are lost
	subs := make(map[string]types.SubscriptionKind, len(c.cfg.Kinds))
	for _, kind := range c.cfg.Kinds {
		id, err := c.subscribe(conn, kind)
		if err != nil {
			_ = conn.Close()
			return err
		}
		subs[id] = kind
	}

	if len(c.cfg.Kinds) > 1 {
		// header gaps stay exact via block numbers, but a pending
		// transaction discarded during the handshake window is unknowable
		c.pendingGapUnknown = true
	}

	c.mxSubs.Lock()
	c.subs = subs
	c.mxSubs.Unlock()

	c.mxConn.Lock()
	c.conn = conn
	c.mxConn.Unlock()

	return nil
}

func (c *Client) subscribe(conn *websocket.Conn, kind types.SubscriptionKind) (string, error) {
	id := c.nextID.Add(1)

	params := []interface{}{kind.Topic()}
	if kind == types.KindPendingTransactions {
		params = append(params, true) // request full transaction objects
	}

	payload, err := marshalJSON(jrpc.NewCall(id, "eth_subscribe", params...))
	if err != nil {
		return "", err
	}

	if err := conn.SetWriteDeadline(utils.Deadline(c.cfg.CallTimeout)); err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return "", err
	}

	if err := conn.SetReadDeadline(utils.Deadline(c.cfg.CallTimeout)); err != nil {
		return "", err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}

		resp, _, err := jrpc.DecodeFrame(data)
		if err != nil || resp == nil || resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return "", fmt.Errorf("%w: %s: %w",
				errSubscriptionRejected, kind, resp.Error,
			)
		}

		var subID string
		if err := unmarshalJSON(resp.Result, &subID); err != nil {
			return "", fmt.Errorf("%w: %s: %w",
				errSubscriptionRejected, kind, err,
			)
		}

		_ = conn.SetReadDeadline(time.Time{}) // steady-state reads have no timeout
		return subID, nil
	}
}

// redial re-establishes the connection with capped exponential backoff,
// retrying until the context is cancelled.
func (c *Client) redial(ctx context.Context) error {
	err := retry.Do(
		func() error { return c.dialAndSubscribe(ctx) },
		retry.Context(ctx),
		retry.Attempts(0), // keep trying
		retry.Delay(c.cfg.BackoffMin),
		retry.MaxDelay(c.cfg.BackoffMax),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, c.cfg.Endpoint, err)
	}

	// whatever the pending-transaction stream pushed during the outage is
	// unknowable; never claim the gap was empty
	c.pendingGapUnknown = true
	c.decodeFailures = 0

	return nil
}

func (c *Client) currentConn() *websocket.Conn {
	c.mxConn.Lock()
	defer c.mxConn.Unlock()

	return c.conn
}

func (c *Client) pump(ctx context.Context) error {
	conn := c.currentConn()
	if conn == nil {
		return errNotConnected
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if err := c.handleFrame(ctx, data); err != nil {
			c.stats.decodeFailures.Add(1)
			metrics.UpstreamDecodeFailuresCount.Add(ctx, 1, otelapi.WithAttributes(
				attribute.KeyValue{Key: "endpoint", Value: attribute.StringValue(c.cfg.Endpoint)},
			))

			c.decodeFailures++
			c.logger.Warn("Dropped malformed upstream frame",
				zap.Error(err),
				zap.Int("consecutive", c.decodeFailures),
			)
			if c.decodeFailures >= maxConsecutiveDecodeFailures {
				c.decodeFailures = 0
				return errDesynchronized
			}
			continue
		}
		c.decodeFailures = 0
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) error {
	resp, notification, err := jrpc.DecodeFrame(data)
	if err != nil {
		return err
	}

	if resp != nil {
		c.settle(resp)
		return nil
	}

	return c.handleNotification(ctx, notification)
}

func (c *Client) handleNotification(ctx context.Context, n *jrpc.Notification) error {
	c.mxSubs.Lock()
	kind, known := c.subs[n.Params.Subscription]
	c.mxSubs.Unlock()
	if !known {
		return fmt.Errorf("notification for unknown subscription %q", n.Params.Subscription)
	}

	receivedAt := time.Now()

	out := types.Notification{
		Endpoint:   c.cfg.Endpoint,
		Kind:       kind,
		ReceivedAt: receivedAt,
	}

	switch kind {
	case types.KindPendingTransactions:
		tx, err := jrpc.DecodePendingTransaction(n.Params.Result, receivedAt)
		if err != nil {
			return err
		}
		out.Tx = tx
		if c.pendingGapUnknown {
			out.GapUnknown = true
			c.pendingGapUnknown = false
		}

	case types.KindNewHeaders:
		header, err := jrpc.DecodeHeader(n.Params.Result)
		if err != nil {
			return err
		}
		out.Header = header
		if c.lastBlock > 0 && header.Number > c.lastBlock+1 {
			out.Gap = header.Number - c.lastBlock - 1
			c.stats.gaps.Add(int64(out.Gap))
		}
		if header.Number > c.lastBlock {
			c.lastBlock = header.Number
		}
	}

	c.seq++
	out.Seq = c.seq

	c.stats.notifications.Add(1)
	metrics.UpstreamNotificationsCount.Add(ctx, 1, otelapi.WithAttributes(
		attribute.KeyValue{Key: "endpoint", Value: attribute.StringValue(c.cfg.Endpoint)},
		attribute.KeyValue{Key: "kind", Value: attribute.StringValue(string(kind))},
	))

	select {
	case c.notifications <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) teardown() {
	c.mxConn.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mxConn.Unlock()

	c.failPending()
}

// advise emits a connection-state event; delivery is advisory and never
// blocks notification flow.
func (c *Client) advise(state types.ConnectionState, reason error) {
	ev := types.ConnectionStateEvent{
		Endpoint: c.cfg.Endpoint,
		State:    state,
		At:       time.Now(),
	}
	if reason != nil {
		ev.Reason = reason.Error()
	}

	c.sink.Publish(types.Event{
		Type:       types.EventConnectionState,
		At:         ev.At,
		Connection: &ev,
	})
}

// Stats reports the per-connection counters.
func (c *Client) Stats() (notifications, decodeFailures, reconnects, gaps int64) {
	return c.stats.notifications.Load(),
		c.stats.decodeFailures.Load(),
		c.stats.reconnects.Load(),
		c.stats.gaps.Load()
}

// ObserveMetrics reports per-connection counters; registered by the server
// as an otel metrics callback.
func (c *Client) ObserveMetrics(ctx context.Context, o otelapi.Observer) error {
	attrs := otelapi.WithAttributes(
		attribute.KeyValue{Key: "endpoint", Value: attribute.StringValue(c.cfg.Endpoint)},
	)

	o.ObserveInt64(metrics.UpstreamGapsCount, c.stats.gaps.Load(), attrs)

	return nil
}
