package jrpc_test

import (
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-sentry/sentry/jrpc"
)

func TestDecodeFrame(t *testing.T) {
	{ // response to a pending call
		resp, notification, err := jrpc.DecodeFrame([]byte(
			`{"jsonrpc":"2.0","id":7,"result":"0x1"}`,
		))
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Nil(t, notification)
		assert.Equal(t, uint64(7), resp.ID)
	}

	{ // error response
		resp, _, err := jrpc.DecodeFrame([]byte(
			`{"jsonrpc":"2.0","id":8,"error":{"code":-32601,"message":"method not found"}}`,
		))
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32601, resp.Error.Code)
	}

	{ // subscription notification
		resp, notification, err := jrpc.DecodeFrame([]byte(
			`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xab","result":{"number":"0x1"}}}`,
		))
		require.NoError(t, err)
		assert.Nil(t, resp)
		require.NotNil(t, notification)
		assert.Equal(t, "0xab", notification.Params.Subscription)
	}

	{ // garbage
		for _, frame := range []string{
			`not json at all`,
			`{"jsonrpc":"2.0"}`,
			`{"jsonrpc":"2.0","method":"eth_subscription","params":{}}`,
		} {
			_, _, err := jrpc.DecodeFrame([]byte(frame))
			assert.Error(t, err, "frame: %s", frame)
		}
	}
}

func TestDecodePendingTransaction(t *testing.T) {
	receivedAt := time.Now()

	{ // full transaction object
		tx, err := jrpc.DecodePendingTransaction([]byte(`{
			"hash": "0x2222222222222222222222222222222222222222222222222222222222222222",
			"from": "0x1111111111111111111111111111111111111111",
			"nonce": "0x2a",
			"gasPrice": "0x3b9aca00",
			"maxFeePerGas": "0x77359400",
			"maxPriorityFeePerGas": "0x3b9aca00",
			"input": "0xdeadbeef"
		}`), receivedAt)
		require.NoError(t, err)

		assert.Equal(t, ethcommon.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"), tx.Hash)
		assert.Equal(t, ethcommon.HexToAddress("0x1111111111111111111111111111111111111111"), tx.From)
		assert.Equal(t, uint64(42), tx.Nonce)
		assert.Equal(t, big.NewInt(1000000000), tx.GasPrice)
		assert.Equal(t, big.NewInt(2000000000), tx.MaxFeePerGas)
		assert.Equal(t, 4, tx.PayloadSize)
		assert.Equal(t, receivedAt, tx.FirstSeen)
		assert.False(t, tx.Confirmed)
	}

	{ // bare hash
		tx, err := jrpc.DecodePendingTransaction([]byte(
			`"0x2222222222222222222222222222222222222222222222222222222222222222"`,
		), receivedAt)
		require.NoError(t, err)
		assert.Equal(t, ethcommon.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"), tx.Hash)
	}

	{ // missing hash
		_, err := jrpc.DecodePendingTransaction([]byte(`{"from":"0x1111111111111111111111111111111111111111"}`), receivedAt)
		assert.Error(t, err)
	}

	{ // malformed payloads must not panic
		for _, raw := range []string{
			`"0x1234"`,
			`"zzz"`,
			`[1,2,3]`,
		} {
			_, err := jrpc.DecodePendingTransaction([]byte(raw), receivedAt)
			assert.Error(t, err, "payload: %s", raw)
		}
	}
}

func TestDecodeRawTransaction(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	signer := ethtypes.LatestSignerForChainID(big.NewInt(1))
	to := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	tx, err := ethtypes.SignNewTx(key, signer, &ethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(1000000000),
		GasFeeCap: big.NewInt(2000000000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	receivedAt := time.Now()
	decoded, err := jrpc.DecodeRawTransaction(hexutil.Encode(raw), receivedAt)
	require.NoError(t, err)

	assert.Equal(t, tx.Hash(), decoded.Hash)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), decoded.From)
	assert.Equal(t, uint64(7), decoded.Nonce)
	assert.Equal(t, big.NewInt(2000000000), decoded.MaxFeePerGas)
	assert.Equal(t, big.NewInt(1000000000), decoded.MaxPriorityFeePerGas)
	assert.Equal(t, len(raw), decoded.PayloadSize)
}

func TestDecodeHeader(t *testing.T) {
	{
		header, err := jrpc.DecodeHeader([]byte(`{
			"number": "0x10",
			"hash": "0x3333333333333333333333333333333333333333333333333333333333333333",
			"parentHash": "0x4444444444444444444444444444444444444444444444444444444444444444",
			"stateRoot": "0x5555555555555555555555555555555555555555555555555555555555555555"
		}`))
		require.NoError(t, err)

		assert.Equal(t, uint64(16), header.Number)
		assert.Equal(t, ethcommon.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555"), header.StateRoot)
	}

	{ // a header without a state root is useless for verification
		_, err := jrpc.DecodeHeader([]byte(`{"number":"0x10"}`))
		assert.Error(t, err)
	}
}
