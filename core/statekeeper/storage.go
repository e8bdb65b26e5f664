package statekeeper

import (
	"context"

	"rollupnode/core/staterestore"
	"rollupnode/core/types"
)

// Storage is the read contract the warm start needs from durable storage.
type Storage interface {
	staterestore.TreeStorage

	// LoadPendingBlock returns the persisted pending block, or nil.
	LoadPendingBlock(ctx context.Context) (*types.PendingBlock, error)
	// IncompleteBlocksRange returns the inclusive range of sealed blocks whose
	// root hash is not persisted yet. ok is false when there are none.
	IncompleteBlocksRange(ctx context.Context) (from, to types.BlockNumber, ok bool, err error)
	// StateDiffForBlock returns the ordered leaf updates of block n. found is
	// false when the block has no persisted diff record at all.
	StateDiffForBlock(ctx context.Context, n types.BlockNumber) (types.AccountUpdates, bool, error)
	// CommittedNFTs returns the NFTs minted in blocks up to and including upTo.
	CommittedNFTs(ctx context.Context, upTo types.BlockNumber) ([]types.NFT, error)
}
