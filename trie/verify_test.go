package trie_test

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-sentry/sentry/trie"
)

// The fixtures below are hand-built trie nodes: the hex-prefix key encoding
// and the node shapes follow the Ethereum yellow-paper layout, so a valid
// proof is simply the top-down node sequence with a matching hash chain.

func hexPrefix(nibbles []byte, leaf bool) []byte {
	flag := byte(0)
	if leaf {
		flag |= 2
	}
	if len(nibbles)%2 == 1 {
		flag |= 1
	}

	buf := []byte{}
	if flag&1 == 1 {
		buf = append(buf, flag<<4|nibbles[0])
		nibbles = nibbles[1:]
	} else {
		buf = append(buf, flag<<4)
	}
	for i := 0; i < len(nibbles); i += 2 {
		buf = append(buf, nibbles[i]<<4|nibbles[i+1])
	}
	return buf
}

func mustRLP(t *testing.T, v interface{}) []byte {
	t.Helper()

	b, err := rlp.EncodeToBytes(v)
	require.NoError(t, err)
	return b
}

func shortNode(t *testing.T, nibbles []byte, leaf bool, payload []byte) []byte {
	t.Helper()

	return mustRLP(t, []interface{}{hexPrefix(nibbles, leaf), payload})
}

func emptyBranch() []interface{} {
	elems := make([]interface{}, 17)
	for i := range elems {
		elems[i] = []byte{}
	}
	return elems
}

func hashOf(node []byte) ethcommon.Hash {
	return ethcommon.BytesToHash(ethcrypto.Keccak256(node))
}

// twoLeafTrie builds a branch root with hash-referenced leaves for keys
// 0x1a2b3c4d and 0x2a2b3c4d.
func twoLeafTrie(t *testing.T) (root ethcommon.Hash, branch, leaf1, leaf2, value []byte) {
	t.Helper()

	value = ethcommon.Hex2Bytes("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")

	tail := []byte{0xa, 0x2, 0xb, 0x3, 0xc, 0x4, 0xd}
	leaf1 = shortNode(t, tail, true, value)
	leaf2 = shortNode(t, tail, true, value)

	elems := emptyBranch()
	elems[1] = ethcrypto.Keccak256(leaf1)
	elems[2] = ethcrypto.Keccak256(leaf2)
	branch = mustRLP(t, elems)

	return hashOf(branch), branch, leaf1, leaf2, value
}

func TestVerifyPresence(t *testing.T) {
	root, branch, leaf1, leaf2, value := twoLeafTrie(t)

	{ // both keys resolve through their own leaf
		res := trie.Verify([][]byte{branch, leaf1}, ethcommon.Hex2Bytes("1a2b3c4d"), root)
		require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)
		assert.Equal(t, value, res.Value)

		res = trie.Verify([][]byte{branch, leaf2}, ethcommon.Hex2Bytes("2a2b3c4d"), root)
		require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)
		assert.Equal(t, value, res.Value)
	}

	{ // value lives directly in the branch when the path is fully consumed
		elems := emptyBranch()
		elems[16] = value
		node := mustRLP(t, elems)

		res := trie.Verify([][]byte{node}, []byte{}, hashOf(node))
		require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)
		assert.Equal(t, value, res.Value)
	}
}

func TestVerifyExtension(t *testing.T) {
	value := ethcommon.Hex2Bytes("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")

	leaf := shortNode(t, []byte{0xb}, true, value)

	elems := emptyBranch()
	elems[2] = ethcrypto.Keccak256(leaf)
	branch := mustRLP(t, elems)

	ext := shortNode(t, []byte{0x1, 0xa}, false, ethcrypto.Keccak256(branch))
	root := hashOf(ext)

	res := trie.Verify([][]byte{ext, branch, leaf}, ethcommon.Hex2Bytes("1a2b"), root)
	require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)
	assert.Equal(t, value, res.Value)

	{ // path diverges inside the extension prefix
		res := trie.Verify([][]byte{ext, branch, leaf}, ethcommon.Hex2Bytes("1b2b"), root, trie.WithAbsence())
		assert.Equal(t, trie.Invalid, res.Status) // trailing nodes past the divergence
	}
}

func TestVerifyEmbeddedChild(t *testing.T) {
	// a short enough leaf is embedded in its parent instead of hashed
	leaf := shortNode(t, []byte{0xa}, true, []byte("v"))
	require.Less(t, len(leaf), 32)

	elems := emptyBranch()
	elems[1] = rlp.RawValue(leaf)
	branch := mustRLP(t, elems)

	res := trie.Verify([][]byte{branch}, []byte{0x1a}, hashOf(branch))
	require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)
	assert.Equal(t, []byte("v"), res.Value)
}

func TestVerifyRejectsTamperedProofs(t *testing.T) {
	root, branch, leaf1, _, _ := twoLeafTrie(t)
	key := ethcommon.Hex2Bytes("1a2b3c4d")

	{ // single-byte mutation breaks the hash chain
		mutated := append([]byte{}, leaf1...)
		mutated[len(mutated)-1] ^= 0x01

		res := trie.Verify([][]byte{branch, mutated}, key, root)
		assert.Equal(t, trie.Invalid, res.Status)
		assert.Error(t, res.Reason)
	}

	{ // reordered nodes no longer chain from the root
		res := trie.Verify([][]byte{leaf1, branch}, key, root)
		assert.Equal(t, trie.Invalid, res.Status)
	}

	{ // duplicated trailing node is not part of the path
		res := trie.Verify([][]byte{branch, leaf1, leaf1}, key, root)
		assert.Equal(t, trie.Invalid, res.Status)
	}

	{ // truncated proof ends before the key is resolved
		res := trie.Verify([][]byte{branch}, key, root)
		assert.Equal(t, trie.Invalid, res.Status)
	}

	{ // proof against the wrong root
		res := trie.Verify([][]byte{branch, leaf1}, key, ethcommon.Hash{0x01})
		assert.Equal(t, trie.Invalid, res.Status)
	}
}

func TestVerifyAbsence(t *testing.T) {
	root, branch, leaf1, _, _ := twoLeafTrie(t)

	{ // empty branch slot: provable absence, but only with the opt-in
		key := ethcommon.Hex2Bytes("3a2b3c4d")

		res := trie.Verify([][]byte{branch}, key, root)
		assert.Equal(t, trie.Invalid, res.Status)

		res = trie.Verify([][]byte{branch}, key, root, trie.WithAbsence())
		assert.Equal(t, trie.ValidAbsence, res.Status)
	}

	{ // a leaf for a different key under the same branch slot
		key := ethcommon.Hex2Bytes("1a2b3c4e")

		res := trie.Verify([][]byte{branch, leaf1}, key, root, trie.WithAbsence())
		assert.Equal(t, trie.ValidAbsence, res.Status)
	}

	{ // empty trie
		key := ethcommon.Hex2Bytes("1a2b3c4d")

		res := trie.Verify(nil, key, trie.EmptyRoot)
		assert.Equal(t, trie.Invalid, res.Status)

		res = trie.Verify(nil, key, trie.EmptyRoot, trie.WithAbsence())
		assert.Equal(t, trie.ValidAbsence, res.Status)
	}

	{ // empty proof against a non-empty root proves nothing
		res := trie.Verify(nil, ethcommon.Hex2Bytes("1a2b3c4d"), root, trie.WithAbsence())
		assert.Equal(t, trie.Invalid, res.Status)
	}
}

func TestVerifyAccount(t *testing.T) {
	address := ethcommon.HexToAddress("0x00000000219ab540356cbb839cbe05303d7705fa")
	account := mustRLP(t, []interface{}{uint64(1), []byte{0x0f}, trie.EmptyRoot.Bytes(), ethcrypto.Keccak256(nil)})

	// the secure trie keys accounts by the keccak of their address
	path := ethcrypto.Keccak256(address.Bytes())
	nibbles := make([]byte, 0, 64)
	for _, b := range path {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	leaf := shortNode(t, nibbles, true, account)

	res := trie.VerifyAccount([][]byte{leaf}, address, hashOf(leaf))
	require.Equal(t, trie.Valid, res.Status, "reason: %v", res.Reason)
	assert.Equal(t, account, res.Value)

	{ // a different address does not match the leaf path
		other := ethcommon.HexToAddress("0x00000000219ab540356cbb839cbe05303d7705fb")
		res := trie.VerifyAccount([][]byte{leaf}, other, hashOf(leaf))
		assert.Equal(t, trie.Invalid, res.Status)
	}
}
