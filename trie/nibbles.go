package trie

import (
	"errors"
)

var (
	errBadCompactEncoding = errors.New("bad compact key encoding")
)

// keyToNibbles expands key bytes into their nibble path, high nibble first.
func keyToNibbles(key []byte) []byte {
	nibbles := make([]byte, 0, 2*len(key))
	for _, b := range key {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	return nibbles
}

// compactToNibbles decodes the hex-prefix ("compact") encoding used by short
// nodes.  The flag nibble carries the leaf bit (2) and the odd-length bit (1).
func compactToNibbles(compact []byte) (nibbles []byte, leaf bool, err error) {
	if len(compact) == 0 {
		return nil, false, errBadCompactEncoding
	}

	flag := compact[0] >> 4
	if flag > 3 {
		return nil, false, errBadCompactEncoding
	}
	leaf = flag&2 != 0

	nibbles = make([]byte, 0, 2*len(compact))
	if flag&1 != 0 {
		nibbles = append(nibbles, compact[0]&0x0f)
	}
	for _, b := range compact[1:] {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}

	return nibbles, leaf, nil
}

func nibblesEqual(l, r []byte) bool {
	if len(l) != len(r) {
		return false
	}
	for i := range l {
		if l[i] != r[i] {
			return false
		}
	}
	return true
}

func nibblesHavePrefix(path, prefix []byte) bool {
	if len(prefix) > len(path) {
		return false
	}
	return nibblesEqual(path[:len(prefix)], prefix)
}
