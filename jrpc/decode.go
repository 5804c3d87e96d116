package jrpc

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goccy/go-json"

	"github.com/pool-sentry/sentry/types"
)

var (
	errFailedToDecodePendingTransaction = errors.New("failed to decode pending transaction notification")
	errFailedToDecodeHeader             = errors.New("failed to decode header notification")
	errFailedToDecodeRawTransaction     = errors.New("failed to decode raw transaction")
)

type wireTransaction struct {
	Hash                 ethcommon.Hash    `json:"hash"`
	From                 ethcommon.Address `json:"from"`
	Nonce                hexutil.Uint64    `json:"nonce"`
	GasPrice             *hexutil.Big      `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big      `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big      `json:"maxPriorityFeePerGas"`
	Input                hexutil.Bytes     `json:"input"`
}

type wireHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       ethcommon.Hash `json:"hash"`
	ParentHash ethcommon.Hash `json:"parentHash"`
	StateRoot  ethcommon.Hash `json:"stateRoot"`
}

// DecodePendingTransaction normalizes a `newPendingTransactions` notification
// payload.  Nodes send either a full transaction object, a bare transaction
// hash, or (some providers) the raw signed transaction bytes; all three are
// accepted.
func DecodePendingTransaction(raw json.RawMessage, receivedAt time.Time) (
	*types.PendingTransaction, error,
) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %w",
				errFailedToDecodePendingTransaction, err,
			)
		}

		if len(s) == 2+2*ethcommon.HashLength { // bare hash
			return &types.PendingTransaction{
				Hash:      ethcommon.HexToHash(s),
				FirstSeen: receivedAt,
			}, nil
		}

		return DecodeRawTransaction(s, receivedAt)
	}

	wire := wireTransaction{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w",
			errFailedToDecodePendingTransaction, err,
		)
	}
	if wire.Hash == (ethcommon.Hash{}) {
		return nil, fmt.Errorf("%w: missing transaction hash",
			errFailedToDecodePendingTransaction,
		)
	}

	return &types.PendingTransaction{
		Hash:                 wire.Hash,
		From:                 wire.From,
		Nonce:                uint64(wire.Nonce),
		GasPrice:             (*big.Int)(wire.GasPrice),
		MaxFeePerGas:         (*big.Int)(wire.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(wire.MaxPriorityFeePerGas),
		PayloadSize:          len(wire.Input),
		FirstSeen:            receivedAt,
	}, nil
}

// DecodeRawTransaction recovers hash, sender and fee fields from raw signed
// transaction bytes.
func DecodeRawTransaction(input string, receivedAt time.Time) (
	tx *types.PendingTransaction, err error,
) {
	defer func() {
		// ethtypes.LatestSignerForChainID panics on invalid chain ID => it can
		// be that other underlying libraries have this bad habit as well
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v",
				errFailedToDecodeRawTransaction, r,
			)
		}
	}()

	bytes, err := hexutil.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w",
			errFailedToDecodeRawTransaction, err,
		)
	}

	ethtx := new(ethtypes.Transaction)
	if err := ethtx.UnmarshalBinary(bytes); err != nil {
		return nil, fmt.Errorf("%w: %w",
			errFailedToDecodeRawTransaction, err,
		)
	}

	if ethtx.ChainId() == nil || ethtx.ChainId().Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid chain id: %v",
			errFailedToDecodeRawTransaction, ethtx.ChainId(),
		)
	}

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(ethtx.ChainId()), ethtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w",
			errFailedToDecodeRawTransaction, err,
		)
	}

	return &types.PendingTransaction{
		Hash:                 ethtx.Hash(),
		From:                 from,
		Nonce:                ethtx.Nonce(),
		GasPrice:             ethtx.GasPrice(),
		MaxFeePerGas:         ethtx.GasFeeCap(),
		MaxPriorityFeePerGas: ethtx.GasTipCap(),
		PayloadSize:          len(bytes),
		FirstSeen:            receivedAt,
	}, nil
}

// DecodeHeader normalizes a `newHeads` notification payload.
func DecodeHeader(raw json.RawMessage) (*types.BlockHeader, error) {
	wire := wireHeader{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w",
			errFailedToDecodeHeader, err,
		)
	}
	if wire.StateRoot == (ethcommon.Hash{}) {
		return nil, fmt.Errorf("%w: missing state root",
			errFailedToDecodeHeader,
		)
	}

	return &types.BlockHeader{
		Number:     uint64(wire.Number),
		Hash:       wire.Hash,
		ParentHash: wire.ParentHash,
		StateRoot:  wire.StateRoot,
	}, nil
}
