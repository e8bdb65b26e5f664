package trie

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// nodeKey addresses a node by its level above the leaves and its index within
// that level. Level 0 holds the leaves, level depth holds the root.
type nodeKey struct {
	level int
	index uint64
}

func (k nodeKey) parent() nodeKey {
	return nodeKey{level: k.level + 1, index: k.index >> 1}
}

func (k nodeKey) sibling() nodeKey {
	return nodeKey{level: k.level, index: k.index ^ 1}
}

func (k nodeKey) isLeft() bool {
	return k.index&1 == 0
}

// hashPair returns the Keccak256 commitment of two child hashes.
func hashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

// emptyHashes precomputes the root of an empty subtree for every level up to
// depth. Level 0 is the empty leaf, which is the zero hash.
func emptyHashes(depth int) []common.Hash {
	hashes := make([]common.Hash, depth+1)
	for level := 1; level <= depth; level++ {
		hashes[level] = hashPair(hashes[level-1], hashes[level-1])
	}
	return hashes
}
