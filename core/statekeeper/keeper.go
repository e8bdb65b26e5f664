package statekeeper

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rollupnode/core/types"
)

// Keeper owns the restored state for the lifetime of the process. It is the
// single writer of the account tree and address index.
type Keeper struct {
	mu     sync.RWMutex
	params *InitParams
}

// NewKeeper takes ownership of params. The root hash jobs are detached and
// returned so they can be handed to the root hash calculator; the caller must
// not touch params afterwards.
func NewKeeper(params *InitParams) (*Keeper, []types.BlockRootHashJob) {
	if params == nil {
		params = NewInitParams()
	}
	jobs := params.RootHashJobs
	params.RootHashJobs = nil
	return &Keeper{params: params}, jobs
}

// InsertAccount adds a new account to the tree and the address index.
func (k *Keeper) InsertAccount(id types.AccountID, acc *types.Account) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.params.InsertAccount(id, acc)
}

// AccountByAddress resolves addr through the address index.
func (k *Keeper) AccountByAddress(addr common.Address) (types.AccountID, *types.Account, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, ok := k.params.AccIDByAddr[addr]
	if !ok {
		return 0, nil, false
	}
	acc, ok := k.params.Tree.Get(id)
	if !ok {
		return 0, nil, false
	}
	return id, acc, true
}

// Root returns the current account tree root.
func (k *Keeper) Root() common.Hash {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.params.Tree.Root()
}

// LastBlockNumber returns the restored height.
func (k *Keeper) LastBlockNumber() types.BlockNumber {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.params.LastBlockNumber
}

// UnprocessedPriorityOp returns the priority op counter at the restored height.
func (k *Keeper) UnprocessedPriorityOp() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.params.UnprocessedPriorityOp
}

// PendingBlock returns a copy of the resumed pending block, if any.
func (k *Keeper) PendingBlock() *types.PendingBlock {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.params.PendingBlock.Copy()
}

// NFT looks up a token in the registry.
func (k *Keeper) NFT(id types.TokenID) (types.NFT, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	nft, ok := k.params.NFTs[id]
	return nft, ok
}
