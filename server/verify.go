package server

import (
	"context"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pool-sentry/sentry/jrpc"
	"github.com/pool-sentry/sentry/logutils"
	"github.com/pool-sentry/sentry/metrics"
	"github.com/pool-sentry/sentry/trie"
	"github.com/pool-sentry/sentry/types"
	"github.com/pool-sentry/sentry/upstream"
)

const defaultProbeTimeout = 30 * time.Second

// onHeader is invoked by the mempool owner loop for every header
// notification.  It must not block, so the proof round-trip runs in its own
// goroutine.
func (s *Server) onHeader(header types.BlockHeader) {
	if s.cfg.Verifier.ProbeAddress == "" {
		return
	}
	go s.probeState(header)
}

// probeState fetches a fresh account proof for the configured probe address
// and checks it against the untrusted header's state root.  The outcome is
// published either way: a failed check is a result, not an error.
func (s *Server) probeState(header types.BlockHeader) {
	timeout := s.cfg.Upstream.CallTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	address := ethcommon.HexToAddress(s.cfg.Verifier.ProbeAddress)

	proof, err := s.proofClient().GetProof(ctx, address, nil, header.Number)
	if err != nil {
		if ctx.Err() == nil {
			logutils.LoggerFromContext(ctx).Warn("Failed to fetch state proof for probe",
				zap.Uint64("block", header.Number),
				zap.Error(err),
			)
		}
		s.hub.Publish(types.Event{
			Type: types.EventVerificationFailed,
			At:   time.Now(),
			Verification: &types.VerificationEvent{
				Block:     header.Number,
				StateRoot: header.StateRoot,
				Key:       address.Bytes(),
				Outcome:   trie.Invalid.String(),
				Reason:    err.Error(),
			},
		})
		return
	}

	s.VerifyState(ctx, proof, header)
}

// VerifyState checks an `eth_getProof`-shaped proof bundle against a known
// header's state root and publishes the outcome to the hub.  The proof may
// come from anywhere; only the header is trusted.
func (s *Server) VerifyState(ctx context.Context, proof *jrpc.ProofResult, header types.BlockHeader) trie.Result {
	opts := []trie.Option{}
	if s.cfg.Verifier.AllowAbsence {
		opts = append(opts, trie.WithAbsence())
	}

	res := trie.VerifyAccount(proof.Nodes(), proof.Address, header.StateRoot, opts...)

	metrics.VerifyCount.Add(ctx, 1, otelapi.WithAttributes(
		attribute.KeyValue{Key: "outcome", Value: attribute.StringValue(res.Status.String())},
	))

	ev := types.VerificationEvent{
		Block:     header.Number,
		StateRoot: header.StateRoot,
		Key:       proof.Address.Bytes(),
		Outcome:   res.Status.String(),
	}

	typ := types.EventStateVerified
	switch res.Status {
	case trie.Valid:
		ev.Value = res.Value
	case trie.ValidAbsence:
		// no value to attach
	default:
		typ = types.EventVerificationFailed
		if res.Reason != nil {
			ev.Reason = res.Reason.Error()
		}
	}

	s.hub.Publish(types.Event{
		Type:         typ,
		At:           time.Now(),
		Verification: &ev,
	})

	return res
}

// proofClient picks the connection used for one-shot proof calls.  Proofs
// are verified against a trusted root anyway, so any endpoint will do.
func (s *Server) proofClient() *upstream.Client {
	return s.upstreams[0]
}
