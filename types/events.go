package types

import (
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type EventType string

const (
	EventPendingTransaction       EventType = "pending_transaction"
	EventTransactionConfirmed     EventType = "transaction_confirmed"
	EventTransactionExpired       EventType = "transaction_expired"
	EventNewHeader                EventType = "new_header"
	EventStateVerified            EventType = "state_verified"
	EventVerificationFailed       EventType = "verification_failed"
	EventConnectionState          EventType = "connection_state"
	EventCapacityPressure         EventType = "capacity_pressure"
	EventSlowConsumerDisconnected EventType = "slow_consumer_disconnected"
)

// Event is the single record type republished to local subscribers.  Exactly
// one of the payload pointers is set, according to Type.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	Tx           *PendingTransaction    `json:"tx,omitempty"`
	Header       *BlockHeader           `json:"header,omitempty"`
	Connection   *ConnectionStateEvent  `json:"connection,omitempty"`
	Verification *VerificationEvent     `json:"verification,omitempty"`
	Pressure     *CapacityPressureEvent `json:"pressure,omitempty"`
	Subscriber   *SubscriberEvent       `json:"subscriber,omitempty"`
}

// VerificationEvent reports the outcome of checking one state claim against
// a trusted header.  Value is only set for positive presence results.
type VerificationEvent struct {
	Block     uint64         `json:"block"`
	StateRoot ethcommon.Hash `json:"state_root"`
	Key       hexutil.Bytes  `json:"key"`
	Outcome   string         `json:"outcome"`
	Value     hexutil.Bytes  `json:"value,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// CapacityPressureEvent is emitted when the mempool index evicts entries
// ahead of schedule to stay under its configured maximum size.
type CapacityPressureEvent struct {
	MaxEntries int `json:"max_entries"`
	Evicted    int `json:"evicted"`
}

// SubscriberEvent identifies a broadcast subscriber, e.g. one disconnected
// for falling too far behind.
type SubscriberEvent struct {
	ID      string `json:"id"`
	Dropped int    `json:"dropped,omitempty"`
}
