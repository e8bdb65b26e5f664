// Package chaintest seeds storage engines with a consistent chain for tests.
package chaintest

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rollupnode/core/staterestore"
	"rollupnode/core/types"
	"rollupnode/storage/trie"
)

// Writer is the write side shared by the storage engines.
type Writer interface {
	SaveBlock(ctx context.Context, block types.Block, diff types.AccountUpdates) error
	StoreRootHash(ctx context.Context, n types.BlockNumber, root common.Hash) error
	SaveNFT(ctx context.Context, nft types.NFT, block types.BlockNumber) error
	SavePendingBlock(ctx context.Context, pending *types.PendingBlock) error
}

// Builder applies blocks to a reference tree and persists them, so the stored
// roots always match what a restore recomputes.
type Builder struct {
	t      testing.TB
	w      Writer
	tree   *trie.AccountTree
	index  map[common.Address]types.AccountID
	number types.BlockNumber
	ops    uint64
	nextID types.AccountID
	roots  map[types.BlockNumber]common.Hash
	diffs  map[types.BlockNumber]types.AccountUpdates
}

// NewBuilder returns a builder writing through w.
func NewBuilder(t testing.TB, w Writer) *Builder {
	return &Builder{
		t:      t,
		w:      w,
		tree:   trie.NewAccountTree(trie.AccountTreeDepth),
		index:  make(map[common.Address]types.AccountID),
		roots:  make(map[types.BlockNumber]common.Hash),
		diffs:  make(map[types.BlockNumber]types.AccountUpdates),
		nextID: 1,
	}
}

// Address returns a deterministic test address.
func Address(b byte) common.Address {
	return common.BytesToAddress([]byte{0xaa, b})
}

// CreateAccount returns an update opening a leaf for addr at the next free id.
func (b *Builder) CreateAccount(addr common.Address) types.AccountUpdateEntry {
	id := b.nextID
	b.nextID++
	return types.CreateAccountUpdate(id, addr, 0)
}

// Deposit returns a balance update crediting amount of token to id, as of the
// builder's current tree. Accounts created in the same block start empty.
func (b *Builder) Deposit(id types.AccountID, token types.TokenID, amount uint64) types.AccountUpdateEntry {
	acc, ok := b.tree.Get(id)
	old := new(uint256.Int)
	var nonce uint64
	if ok {
		old = acc.Balance(token)
		nonce = acc.Nonce
	}
	next := new(uint256.Int).Add(old, uint256.NewInt(amount))
	return types.BalanceUpdate(id, token, old, next, nonce, nonce)
}

// Block seals the next block with updates and priorityOps processed
// operations. When hashed is false the root is computed but not stored, so the
// block lands in the incomplete range.
func (b *Builder) Block(hashed bool, priorityOps uint64, updates ...types.AccountUpdateEntry) types.BlockNumber {
	b.t.Helper()
	for _, entry := range updates {
		if err := staterestore.ApplyUpdate(b.tree, b.index, entry); err != nil {
			b.t.Fatalf("apply update to reference tree: %v", err)
		}
	}
	b.number++
	before := b.ops
	b.ops += priorityOps
	root := b.tree.Root()
	b.roots[b.number] = root
	diff := append(types.AccountUpdates{}, updates...)
	b.diffs[b.number] = diff

	block := types.Block{
		Number:               b.number,
		ProcessedPriorityOps: types.PriorityOpRange{Before: before, After: b.ops},
		Timestamp:            1_700_000_000 + uint64(b.number),
	}
	if hashed {
		block.RootHash = &root
	}
	if err := b.w.SaveBlock(context.Background(), block, diff); err != nil {
		b.t.Fatalf("save block %d: %v", b.number, err)
	}
	return b.number
}

// HashBlock stores the root of a previously unhashed block.
func (b *Builder) HashBlock(n types.BlockNumber) {
	b.t.Helper()
	if err := b.w.StoreRootHash(context.Background(), n, b.roots[n]); err != nil {
		b.t.Fatalf("store root hash of block %d: %v", n, err)
	}
}

// Mint records an NFT minted in block.
func (b *Builder) Mint(id types.TokenID, creator types.AccountID, block types.BlockNumber) types.NFT {
	b.t.Helper()
	nft := types.NFT{
		ID:             id,
		SerialID:       uint32(id),
		CreatorID:      creator,
		CreatorAddress: Address(byte(creator)),
		Address:        common.BytesToAddress([]byte{0xbb, byte(id)}),
		Symbol:         "NFT",
		ContentHash:    common.BytesToHash([]byte{byte(id)}),
	}
	if err := b.w.SaveNFT(context.Background(), nft, block); err != nil {
		b.t.Fatalf("save nft %d: %v", id, err)
	}
	return nft
}

// Pending persists a pending block numbered n.
func (b *Builder) Pending(n types.BlockNumber) *types.PendingBlock {
	b.t.Helper()
	pending := &types.PendingBlock{
		Number:                      n,
		ChunksLeft:                  10,
		UnprocessedPriorityOpBefore: b.ops,
		Iteration:                   3,
		SuccessOperations: []types.ExecutedTx{
			{Hash: common.BytesToHash([]byte{byte(n)}), Payload: []byte{0x01}, Success: true},
		},
		Timestamp: 1_700_000_000 + uint64(n),
	}
	if err := b.w.SavePendingBlock(context.Background(), pending); err != nil {
		b.t.Fatalf("save pending block %d: %v", n, err)
	}
	return pending
}

// Root returns the reference root after block n.
func (b *Builder) Root(n types.BlockNumber) common.Hash {
	return b.roots[n]
}

// Diff returns the diff sealed with block n.
func (b *Builder) Diff(n types.BlockNumber) types.AccountUpdates {
	return b.diffs[n]
}

// Tree returns a copy of the reference tree after the last sealed block.
func (b *Builder) Tree() *trie.AccountTree {
	return b.tree.Copy()
}

// PriorityOps returns the cumulative processed priority op counter.
func (b *Builder) PriorityOps() uint64 {
	return b.ops
}
