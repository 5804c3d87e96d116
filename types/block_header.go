package types

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// BlockHeader carries only the fields the pipeline needs: identity and the
// trusted state root that account/storage proofs are checked against.  It is
// never mutated after construction and is not retained once no verification
// references it.
type BlockHeader struct {
	Number     uint64         `json:"number"`
	Hash       ethcommon.Hash `json:"hash"`
	ParentHash ethcommon.Hash `json:"parent_hash"`
	StateRoot  ethcommon.Hash `json:"state_root"`
}
