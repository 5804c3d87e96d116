package jrpc

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofResult mirrors the response shape of `eth_getProof`.
type ProofResult struct {
	Address      ethcommon.Address `json:"address"`
	AccountProof []hexutil.Bytes   `json:"accountProof"`
	Balance      *hexutil.Big      `json:"balance"`
	CodeHash     ethcommon.Hash    `json:"codeHash"`
	Nonce        hexutil.Uint64    `json:"nonce"`
	StorageHash  ethcommon.Hash    `json:"storageHash"`
	StorageProof []StorageProof    `json:"storageProof"`
}

type StorageProof struct {
	Key   hexutil.Bytes   `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// Nodes returns the ordered account-proof nodes as plain byte slices, the
// shape the trie verifier consumes.
func (p *ProofResult) Nodes() [][]byte {
	return proofBytes(p.AccountProof)
}

func (p *StorageProof) Nodes() [][]byte {
	return proofBytes(p.Proof)
}

func proofBytes(proof []hexutil.Bytes) [][]byte {
	nodes := make([][]byte, 0, len(proof))
	for _, n := range proof {
		nodes = append(nodes, []byte(n))
	}
	return nodes
}
