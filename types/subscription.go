package types

import (
	"time"
)

type SubscriptionKind string

const (
	KindPendingTransactions SubscriptionKind = "pending_transactions"
	KindNewHeaders          SubscriptionKind = "new_headers"
)

func (k SubscriptionKind) Valid() bool {
	switch k {
	case KindPendingTransactions, KindNewHeaders:
		return true
	default:
		return false
	}
}

// Topic is the subscription topic name understood by the remote node.
func (k SubscriptionKind) Topic() string {
	switch k {
	case KindPendingTransactions:
		return "newPendingTransactions"
	case KindNewHeaders:
		return "newHeads"
	default:
		return ""
	}
}

// Notification is one normalized message received over an upstream
// subscription.  Exactly one of Tx and Header is set, according to Kind.
//
// Seq increases monotonically per connection.  Gap is the count of
// notifications known to have been missed immediately before this one
// (derivable for header streams from block numbers); when the count is not
// observable, e.g. for the pending-transaction stream right after a
// reconnect, GapUnknown is set instead of claiming Gap == 0.
type Notification struct {
	Endpoint   string
	Kind       SubscriptionKind
	Seq        uint64
	Gap        uint64
	GapUnknown bool
	ReceivedAt time.Time

	Tx     *PendingTransaction
	Header *BlockHeader
}

type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateResubscribed ConnectionState = "resubscribed"
)

// ConnectionStateEvent is advisory only; delivery never blocks the
// connection's read loop.
type ConnectionStateEvent struct {
	Endpoint string          `json:"endpoint"`
	State    ConnectionState `json:"state"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}
