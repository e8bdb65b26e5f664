package trie

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"rollupnode/core/types"
)

// AccountTreeDepth is the protocol-fixed depth of the account tree. It bounds
// the account id space to 2^24 leaves.
const AccountTreeDepth = 24

// AccountTree is a fixed-depth sparse Merkle tree indexed by account id. Each
// populated leaf commits to the canonical encoding of one account; empty
// subtrees hash to precomputed defaults so only touched paths are stored.
//
// The tree keeps its root up to date on every mutation.
//
// AccountTree is not safe for concurrent use.
type AccountTree struct {
	depth  int
	leaves map[types.AccountID]*types.Account
	nodes  map[nodeKey]common.Hash
	empty  []common.Hash
}

// NewAccountTree returns an empty tree of the given depth.
func NewAccountTree(depth int) *AccountTree {
	if depth <= 0 || depth > 32 {
		panic(fmt.Sprintf("trie: unsupported account tree depth %d", depth))
	}
	return &AccountTree{
		depth:  depth,
		leaves: make(map[types.AccountID]*types.Account),
		nodes:  make(map[nodeKey]common.Hash),
		empty:  emptyHashes(depth),
	}
}

// Depth returns the configured tree depth.
func (t *AccountTree) Depth() int {
	return t.depth
}

// Capacity returns the number of addressable leaves.
func (t *AccountTree) Capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

// Get returns a copy of the account stored at id.
func (t *AccountTree) Get(id types.AccountID) (*types.Account, bool) {
	acc, ok := t.leaves[id]
	if !ok {
		return nil, false
	}
	return acc.Copy(), true
}

// Insert stores acc at id, replacing any previous leaf, and refreshes the
// root.
func (t *AccountTree) Insert(id types.AccountID, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("trie: nil account for id %d", id)
	}
	if uint64(id) >= t.Capacity() {
		return fmt.Errorf("trie: account id %d exceeds tree capacity %d", id, t.Capacity())
	}
	leaf, err := acc.EncodeLeaf()
	if err != nil {
		return fmt.Errorf("trie: encode account %d: %w", id, err)
	}
	t.leaves[id] = acc.Copy()
	t.update(uint64(id), crypto.Keccak256Hash(leaf))
	return nil
}

// Remove clears the leaf at id. Removing an empty leaf is a no-op.
func (t *AccountTree) Remove(id types.AccountID) {
	if _, ok := t.leaves[id]; !ok {
		return
	}
	delete(t.leaves, id)
	t.update(uint64(id), t.empty[0])
}

// Root returns the current root hash.
func (t *AccountTree) Root() common.Hash {
	return t.hash(nodeKey{level: t.depth, index: 0})
}

// Size returns the number of populated leaves.
func (t *AccountTree) Size() int {
	return len(t.leaves)
}

// IDs returns the populated leaf ids in ascending order.
func (t *AccountTree) IDs() []types.AccountID {
	ids := make([]types.AccountID, 0, len(t.leaves))
	for id := range t.leaves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Copy returns an independent tree with identical contents.
func (t *AccountTree) Copy() *AccountTree {
	cpy := &AccountTree{
		depth:  t.depth,
		leaves: make(map[types.AccountID]*types.Account, len(t.leaves)),
		nodes:  make(map[nodeKey]common.Hash, len(t.nodes)),
		empty:  t.empty,
	}
	for id, acc := range t.leaves {
		cpy.leaves[id] = acc.Copy()
	}
	for key, h := range t.nodes {
		cpy.nodes[key] = h
	}
	return cpy
}

func (t *AccountTree) hash(key nodeKey) common.Hash {
	if h, ok := t.nodes[key]; ok {
		return h
	}
	return t.empty[key.level]
}

func (t *AccountTree) set(key nodeKey, h common.Hash) {
	if h == t.empty[key.level] {
		delete(t.nodes, key)
		return
	}
	t.nodes[key] = h
}

// update writes a leaf hash and rehashes the path up to the root.
func (t *AccountTree) update(index uint64, leaf common.Hash) {
	key := nodeKey{level: 0, index: index}
	t.set(key, leaf)
	for key.level < t.depth {
		var left, right common.Hash
		if key.isLeft() {
			left, right = t.hash(key), t.hash(key.sibling())
		} else {
			left, right = t.hash(key.sibling()), t.hash(key)
		}
		key = key.parent()
		t.set(key, hashPair(left, right))
	}
}
