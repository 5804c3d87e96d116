// Package trie verifies Merkle-Patricia trie proofs against a trusted root
// hash.  A proof is the exact, canonical top-down sequence of encoded trie
// nodes from the root to the target key; any reordering, mutation, or padding
// of that sequence breaks the hash chain and yields Invalid.
//
// Verification is pure: no I/O, no shared mutable state, safe for any number
// of concurrent callers.
package trie

import (
	"bytes"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// EmptyRoot is the root hash of an empty trie.
var EmptyRoot = ethtypes.EmptyRootHash

type Status uint8

const (
	Invalid Status = iota
	Valid
	ValidAbsence
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case ValidAbsence:
		return "valid_absence"
	default:
		return "invalid"
	}
}

// Result reports the outcome of one verification.  Value is set only for
// Valid.  Reason explains Invalid outcomes; it is a normal result, not an
// exception, and callers must treat it as "proof does not establish the
// claim".
type Result struct {
	Status Status
	Value  []byte
	Reason error
}

type options struct {
	allowAbsence bool
}

type Option func(*options)

// WithAbsence opts in to treating a provably missing key as ValidAbsence.
// Without it, non-presence is Invalid: the caller asked for presence.
func WithAbsence() Option {
	return func(o *options) {
		o.allowAbsence = true
	}
}

var (
	errEmptyProof     = errors.New("empty proof against non-empty root")
	errExhaustedProof = errors.New("proof ended before reaching the key")
	errTrailingNodes  = errors.New("proof has unused trailing nodes")
	errHashMismatch   = errors.New("node hash does not chain to its parent")
	errMalformedNode  = errors.New("malformed proof node")
	errKeyNotPresent  = errors.New("key not present in trie")
	errEmptyValue     = errors.New("key resolves to an empty value")
)

// Verify walks key's nibble path through the proof nodes and checks the hash
// chain down from root.  VerifyAccount and VerifyStorage wrap it with the
// secure-trie key hashing used by Ethereum state.
func Verify(proof [][]byte, key []byte, root ethcommon.Hash, opts ...Option) Result {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	path := keyToNibbles(key)

	if len(proof) == 0 {
		if root == EmptyRoot {
			return absence(&o, 0, 0)
		}
		return invalid(errEmptyProof)
	}

	want := root.Bytes()
	idx := 0

	// cur holds the raw encoding of the node under examination: either the
	// next proof element (hash-checked against want) or a child embedded
	// inline in its parent (<32 bytes, no hash check by construction).
	var cur []byte

	for {
		if cur == nil {
			if idx >= len(proof) {
				return invalid(errExhaustedProof)
			}
			enc := proof[idx]
			if !bytes.Equal(ethcrypto.Keccak256(enc), want) {
				return invalid(fmt.Errorf("%w: node %d", errHashMismatch, idx))
			}
			idx++
			cur = enc
		}

		elems, _, err := rlp.SplitList(cur)
		if err != nil {
			return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
		}
		count, err := rlp.CountValues(elems)
		if err != nil {
			return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
		}

		switch count {
		case 2: // leaf or extension
			kbuf, rest, err := rlp.SplitString(elems)
			if err != nil {
				return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
			}
			nibbles, leaf, err := compactToNibbles(kbuf)
			if err != nil {
				return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
			}

			if leaf {
				value, _, err := rlp.SplitString(rest)
				if err != nil {
					return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
				}
				if !nibblesEqual(path, nibbles) {
					// a leaf for a different key proves ours is absent
					return absence(&o, idx, len(proof))
				}
				if len(value) == 0 {
					return invalid(errEmptyValue)
				}
				return valid(value, idx, len(proof))
			}

			// extension
			if !nibblesHavePrefix(path, nibbles) {
				return absence(&o, idx, len(proof))
			}
			path = path[len(nibbles):]

			embedded, hash, empty, err := splitRef(rest)
			if err != nil {
				return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
			}
			if empty {
				return invalid(fmt.Errorf("%w: extension with empty child", errMalformedNode))
			}
			cur, want = embedded, hash

		case 17: // branch
			if len(path) == 0 {
				value, err := branchValue(elems)
				if err != nil {
					return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
				}
				if len(value) == 0 {
					return absence(&o, idx, len(proof))
				}
				return valid(value, idx, len(proof))
			}

			ref, err := branchChild(elems, int(path[0]))
			if err != nil {
				return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
			}
			path = path[1:]

			embedded, hash, empty, err := splitRef(ref)
			if err != nil {
				return invalid(fmt.Errorf("%w: %w", errMalformedNode, err))
			}
			if empty {
				// no child under the next nibble: evidence of absence
				return absence(&o, idx, len(proof))
			}
			cur, want = embedded, hash

		default:
			return invalid(fmt.Errorf("%w: %d elements", errMalformedNode, count))
		}
	}
}

// VerifyAccount checks an `eth_getProof` account proof against a header's
// state root.  The returned value is the RLP-encoded account record.
func VerifyAccount(proof [][]byte, address ethcommon.Address, stateRoot ethcommon.Hash, opts ...Option) Result {
	return Verify(proof, ethcrypto.Keccak256(address.Bytes()), stateRoot, opts...)
}

// VerifyStorage checks a storage-slot proof against an account's storage
// root.  The returned value is the RLP-encoded slot content.
func VerifyStorage(proof [][]byte, slot ethcommon.Hash, storageRoot ethcommon.Hash, opts ...Option) Result {
	return Verify(proof, ethcrypto.Keccak256(slot.Bytes()), storageRoot, opts...)
}

// splitRef classifies one child reference: an inline embedded node (raw list
// shorter than 32 bytes), a 32-byte hash to be resolved against the next
// proof element, or an empty slot.
func splitRef(buf []byte) (embedded []byte, hash []byte, empty bool, err error) {
	kind, val, rest, err := rlp.Split(buf)
	if err != nil {
		return nil, nil, false, err
	}

	switch {
	case kind == rlp.List:
		return buf[:len(buf)-len(rest)], nil, false, nil
	case len(val) == 0:
		return nil, nil, true, nil
	case len(val) == ethcommon.HashLength:
		return nil, val, false, nil
	default:
		return nil, nil, false, fmt.Errorf("invalid child reference of %d bytes", len(val))
	}
}

func branchChild(elems []byte, nibble int) ([]byte, error) {
	rest := elems
	for i := 0; i <= nibble; i++ {
		_, _, next, err := rlp.Split(rest)
		if err != nil {
			return nil, err
		}
		if i == nibble {
			return rest[:len(rest)-len(next)], nil
		}
		rest = next
	}
	return nil, errMalformedNode
}

func branchValue(elems []byte) ([]byte, error) {
	rest := elems
	for i := 0; i < 16; i++ {
		_, _, next, err := rlp.Split(rest)
		if err != nil {
			return nil, err
		}
		rest = next
	}
	value, _, err := rlp.SplitString(rest)
	return value, err
}

func valid(value []byte, used, total int) Result {
	if used != total {
		return invalid(fmt.Errorf("%w: used %d of %d", errTrailingNodes, used, total))
	}
	return Result{Status: Valid, Value: value}
}

func absence(o *options, used, total int) Result {
	if used != total {
		return invalid(fmt.Errorf("%w: used %d of %d", errTrailingNodes, used, total))
	}
	if !o.allowAbsence {
		return invalid(errKeyNotPresent)
	}
	return Result{Status: ValidAbsence}
}

func invalid(reason error) Result {
	return Result{Status: Invalid, Reason: reason}
}
