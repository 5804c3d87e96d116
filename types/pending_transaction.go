package types

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PendingTransaction is the mempool's view of one unconfirmed transaction.
// It is immutable after insertion except for the Confirmed flag, which is
// flipped (idempotently) by the mempool index alone.
type PendingTransaction struct {
	Hash                 ethcommon.Hash    `json:"hash"`
	From                 ethcommon.Address `json:"from"`
	Nonce                uint64            `json:"nonce"`
	GasPrice             *big.Int          `json:"-"`
	MaxFeePerGas         *big.Int          `json:"-"`
	MaxPriorityFeePerGas *big.Int          `json:"-"`
	PayloadSize          int               `json:"payload_size"`
	FirstSeen            time.Time         `json:"first_seen"`
	Confirmed            bool              `json:"confirmed"`
}

// jsonPendingTransaction carries the big.Int fields as hex quantities so
// that the event records stay compatible with standard Ethereum tooling.
type jsonPendingTransaction struct {
	Hash                 ethcommon.Hash    `json:"hash"`
	From                 ethcommon.Address `json:"from"`
	Nonce                hexutil.Uint64    `json:"nonce"`
	GasPrice             *hexutil.Big      `json:"gas_price,omitempty"`
	MaxFeePerGas         *hexutil.Big      `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big      `json:"max_priority_fee_per_gas,omitempty"`
	PayloadSize          int               `json:"payload_size"`
	FirstSeen            time.Time         `json:"first_seen"`
	Confirmed            bool              `json:"confirmed"`
}

func (tx *PendingTransaction) MarshalJSON() ([]byte, error) {
	return marshalJSON(&jsonPendingTransaction{
		Hash:                 tx.Hash,
		From:                 tx.From,
		Nonce:                hexutil.Uint64(tx.Nonce),
		GasPrice:             (*hexutil.Big)(tx.GasPrice),
		MaxFeePerGas:         (*hexutil.Big)(tx.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(tx.MaxPriorityFeePerGas),
		PayloadSize:          tx.PayloadSize,
		FirstSeen:            tx.FirstSeen,
		Confirmed:            tx.Confirmed,
	})
}

func (tx *PendingTransaction) UnmarshalJSON(b []byte) error {
	aux := jsonPendingTransaction{}
	if err := unmarshalJSON(b, &aux); err != nil {
		return err
	}

	tx.Hash = aux.Hash
	tx.From = aux.From
	tx.Nonce = uint64(aux.Nonce)
	tx.GasPrice = (*big.Int)(aux.GasPrice)
	tx.MaxFeePerGas = (*big.Int)(aux.MaxFeePerGas)
	tx.MaxPriorityFeePerGas = (*big.Int)(aux.MaxPriorityFeePerGas)
	tx.PayloadSize = aux.PayloadSize
	tx.FirstSeen = aux.FirstSeen
	tx.Confirmed = aux.Confirmed

	return nil
}
