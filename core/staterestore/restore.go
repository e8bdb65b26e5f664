package staterestore

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
	"rollupnode/storage/trie"
)

// TreeStorage is the read contract needed to rebuild the account tree.
type TreeStorage interface {
	// LastCommittedBlock returns the highest block whose root hash has been
	// persisted, or 0 when no block was ever committed.
	LastCommittedBlock(ctx context.Context) (types.BlockNumber, error)
	// LoadCommittedUpdates returns the ordered diffs of blocks 1..upTo in
	// ascending block order. Blocks without leaf changes may be omitted.
	LoadCommittedUpdates(ctx context.Context, upTo types.BlockNumber) ([]types.BlockUpdates, error)
	// BlockMetadata returns the stored metadata of block n.
	BlockMetadata(ctx context.Context, n types.BlockNumber) (*types.Block, bool, error)
}

// RestoredTree is the account tree and address index rebuilt from storage,
// valid as of LastBlock.
type RestoredTree struct {
	Tree        *trie.AccountTree
	AccIDByAddr map[common.Address]types.AccountID
	LastBlock   types.BlockNumber
}

// Restorer replays persisted leaf updates into a fresh account tree.
type Restorer struct {
	storage TreeStorage
	depth   int
	logger  *slog.Logger
}

// Option customises a Restorer.
type Option func(*Restorer)

// WithLogger sets the logger used for progress reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Restorer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDepth overrides the account tree depth. Only tests use anything other
// than trie.AccountTreeDepth.
func WithDepth(depth int) Option {
	return func(r *Restorer) { r.depth = depth }
}

// NewRestorer binds a restorer to storage.
func NewRestorer(storage TreeStorage, opts ...Option) *Restorer {
	r := &Restorer{
		storage: storage,
		depth:   trie.AccountTreeDepth,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore rebuilds the tree up to the last committed block. Every storage
// failure is returned as a *coreerrors.StorageError; an update that cannot
// apply, or a rebuilt root that disagrees with the stored one, is a
// *coreerrors.DataConsistencyError.
func (r *Restorer) Restore(ctx context.Context) (*RestoredTree, error) {
	restored := &RestoredTree{
		Tree:        trie.NewAccountTree(r.depth),
		AccIDByAddr: make(map[common.Address]types.AccountID),
	}

	last, err := r.storage.LastCommittedBlock(ctx)
	if err != nil {
		return nil, coreerrors.Storage("load last committed block", err)
	}
	if last == 0 {
		return restored, nil
	}

	blocks, err := r.storage.LoadCommittedUpdates(ctx, last)
	if err != nil {
		return nil, coreerrors.Storage("load committed account updates", err)
	}

	var prev types.BlockNumber
	applied := 0
	for _, block := range blocks {
		if block.Block <= prev || block.Block > last {
			return nil, coreerrors.Inconsistent("account updates for block %d out of order after block %d (last committed %d)", block.Block, prev, last)
		}
		if err := restored.apply(block.Block, block.Updates); err != nil {
			return nil, err
		}
		prev = block.Block
		applied += len(block.Updates)
	}
	restored.LastBlock = last

	if err := restored.checkIndex(); err != nil {
		return nil, err
	}
	if err := r.verifyRoot(ctx, restored); err != nil {
		return nil, err
	}

	r.logger.Debug("Account tree restored",
		slog.Uint64("last_block_number", uint64(last)),
		slog.Int("accounts", restored.Tree.Size()),
		slog.Int("updates_applied", applied),
	)
	return restored, nil
}

func (r *Restorer) verifyRoot(ctx context.Context, restored *RestoredTree) error {
	meta, ok, err := r.storage.BlockMetadata(ctx, restored.LastBlock)
	if err != nil {
		return coreerrors.Storage("load last committed block metadata", err)
	}
	if !ok || !meta.Hashed() {
		return coreerrors.Inconsistent("last committed block %d has no stored root hash", restored.LastBlock)
	}
	if root := restored.Tree.Root(); root != *meta.RootHash {
		return coreerrors.Inconsistent("restored root %s does not match stored root %s of block %d", root.Hex(), meta.RootHash.Hex(), restored.LastBlock)
	}
	return nil
}

// checkIndex confirms the address index maps exactly the populated leaves.
func (rt *RestoredTree) checkIndex() error {
	ids := rt.Tree.IDs()
	if len(ids) != len(rt.AccIDByAddr) {
		return coreerrors.Inconsistent("address index holds %d entries for %d accounts at block %d", len(rt.AccIDByAddr), len(ids), rt.LastBlock)
	}
	for _, id := range ids {
		acc, _ := rt.Tree.Get(id)
		if got, ok := rt.AccIDByAddr[acc.Address]; !ok || got != id {
			return coreerrors.Inconsistent("address %s of account %d is not indexed to it", acc.Address.Hex(), id)
		}
	}
	return nil
}

// apply replays one block's diff, keeping the address index in step with the
// tree's populated leaves.
func (rt *RestoredTree) apply(block types.BlockNumber, updates types.AccountUpdates) error {
	for i, entry := range updates {
		if err := ApplyUpdate(rt.Tree, rt.AccIDByAddr, entry); err != nil {
			return coreerrors.Inconsistent("block %d update %d (account %d): %v", block, i, entry.AccountID, err)
		}
	}
	return nil
}
