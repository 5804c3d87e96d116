package upstream

import (
	"context"
	"fmt"

	"github.com/fasthttp/websocket"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pool-sentry/sentry/jrpc"
	"github.com/pool-sentry/sentry/utils"
)

// One-shot calls are multiplexed onto the subscription connection: requests
// go out interleaved with subscription traffic and responses are correlated
// back by id in the read loop.

// Call issues a JSON-RPC request over the live connection and decodes the
// result into result.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	id := c.nextID.Add(1)

	ch := make(chan *jrpc.Response, 1)
	c.mxPending.Lock()
	c.pending[id] = ch
	c.mxPending.Unlock()

	defer func() {
		c.mxPending.Lock()
		delete(c.pending, id)
		c.mxPending.Unlock()
	}()

	payload, err := marshalJSON(jrpc.NewCall(id, method, params...))
	if err != nil {
		return err
	}
	if err := c.write(payload); err != nil {
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return errConnectionReset
		}
		if resp.Error != nil {
			return resp.Error
		}
		return unmarshalJSON(resp.Result, result)

	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetProof fetches an `eth_getProof` account/storage proof for the given
// block; the result is raw material for the trie verifier, never trusted on
// its own.
func (c *Client) GetProof(
	ctx context.Context,
	address ethcommon.Address,
	storageKeys []ethcommon.Hash,
	blockNumber uint64,
) (*jrpc.ProofResult, error) {
	keys := make([]string, 0, len(storageKeys))
	for _, k := range storageKeys {
		keys = append(keys, k.Hex())
	}

	proof := &jrpc.ProofResult{}
	err := c.Call(ctx, proof, "eth_getProof",
		address.Hex(), keys, hexutil.EncodeUint64(blockNumber),
	)
	if err != nil {
		return nil, fmt.Errorf("eth_getProof: %w", err)
	}

	return proof, nil
}

func (c *Client) write(payload []byte) error {
	c.mxConn.Lock()
	defer c.mxConn.Unlock()

	if c.conn == nil {
		return errNotConnected
	}

	if err := c.conn.SetWriteDeadline(utils.Deadline(c.cfg.CallTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// settle routes a response frame to the caller waiting on its id.
func (c *Client) settle(resp *jrpc.Response) {
	c.mxPending.Lock()
	ch, exists := c.pending[resp.ID]
	if exists {
		delete(c.pending, resp.ID)
	}
	c.mxPending.Unlock()

	if !exists {
		c.logger.Debug("Response for no pending call",
			zap.Uint64("call_id", resp.ID),
		)
		return
	}

	ch <- resp
}

// failPending wakes every in-flight caller after a connection loss.
func (c *Client) failPending() {
	c.mxPending.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan *jrpc.Response)
	c.mxPending.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
