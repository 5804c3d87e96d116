package server

import (
	"context"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelapi "go.opentelemetry.io/otel/metric"

	"github.com/pool-sentry/sentry/config"
	"github.com/pool-sentry/sentry/jrpc"
	"github.com/pool-sentry/sentry/metrics"
	"github.com/pool-sentry/sentry/trie"
	"github.com/pool-sentry/sentry/types"
	"github.com/pool-sentry/sentry/upstream"
)

var setupMetricsOnce sync.Once

func setupMetrics(t *testing.T) {
	t.Helper()

	setupMetricsOnce.Do(func() {
		err := metrics.Setup(context.Background(), func(_ context.Context, _ otelapi.Observer) error {
			return nil
		})
		require.NoError(t, err)
	})
}

func testConfig() *config.Config {
	cfg := config.New()

	cfg.Upstream.Endpoints = []string{"ws://127.0.0.1:8546"}
	cfg.Upstream.Kinds = []string{"new_headers"}
	cfg.Mempool.TTL = time.Minute
	cfg.Mempool.SweepInterval = time.Second
	cfg.Broadcast.QueueDepth = 16
	cfg.Broadcast.Policy = "drop-oldest"
	cfg.Metrics.ListenAddress = "127.0.0.1:0"

	return cfg
}

// accountProof builds a one-leaf state trie for the address and returns its
// proof along with the matching root.
func accountProof(t *testing.T, address ethcommon.Address) (*jrpc.ProofResult, ethcommon.Hash) {
	t.Helper()

	account, err := rlp.EncodeToBytes([]interface{}{
		uint64(1), []byte{0x0f}, trie.EmptyRoot.Bytes(), ethcrypto.Keccak256(nil),
	})
	require.NoError(t, err)

	path := ethcrypto.Keccak256(address.Bytes())
	compact := make([]byte, 0, 33)
	compact = append(compact, 0x20) // even-length leaf
	compact = append(compact, path...)

	leaf, err := rlp.EncodeToBytes([]interface{}{compact, account})
	require.NoError(t, err)

	proof := &jrpc.ProofResult{
		Address:      address,
		AccountProof: []hexutil.Bytes{leaf},
	}
	return proof, ethcommon.BytesToHash(ethcrypto.Keccak256(leaf))
}

func TestProofClient(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.hub.Close()

	client := s.proofClient()
	require.NotNil(t, client)
	require.IsType(t, (*upstream.Client)(nil), client)
}

func TestVerifyState(t *testing.T) {
	setupMetrics(t)

	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.hub.Close()

	sub := s.hub.Subscribe()
	defer sub.Close()

	address := ethcommon.HexToAddress("0x00000000219ab540356cbb839cbe05303d7705fa")
	proof, root := accountProof(t, address)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	{ // proof matches the header's state root
		header := types.BlockHeader{Number: 100, StateRoot: root}

		res := s.VerifyState(ctx, proof, header)
		require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)

		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.EventStateVerified, ev.Type)
		require.NotNil(t, ev.Verification)
		assert.Equal(t, uint64(100), ev.Verification.Block)
		assert.Equal(t, trie.Valid.String(), ev.Verification.Outcome)
		assert.Equal(t, hexutil.Bytes(res.Value), ev.Verification.Value)
	}

	{ // same proof against a different root is a negative result, not an error
		header := types.BlockHeader{Number: 101, StateRoot: ethcommon.Hash{0xde, 0xad}}

		res := s.VerifyState(ctx, proof, header)
		assert.Equal(t, trie.Invalid, res.Status)

		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.EventVerificationFailed, ev.Type)
		require.NotNil(t, ev.Verification)
		assert.NotEmpty(t, ev.Verification.Reason)
	}
}
