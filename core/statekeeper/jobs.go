package statekeeper

import (
	"context"
	"fmt"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
)

// LoadRootHashJobs rebuilds the ordered queue of sealed blocks whose root hash
// is still missing. The queue starts right after last and has no gaps.
func LoadRootHashJobs(ctx context.Context, s Storage, last types.BlockNumber) ([]types.BlockRootHashJob, error) {
	from, to, ok, err := s.IncompleteBlocksRange(ctx)
	if err != nil {
		return nil, coreerrors.Storage("load incomplete blocks range", err)
	}
	if !ok {
		return []types.BlockRootHashJob{}, nil
	}
	if to < from {
		return nil, coreerrors.Inconsistent("incomplete blocks range [%d, %d] is inverted", from, to)
	}
	if uint64(from) != uint64(last)+1 {
		return nil, coreerrors.Inconsistent("incomplete blocks range starts at %d, expected %d after last committed block %d", from, uint64(last)+1, last)
	}

	jobs := make([]types.BlockRootHashJob, 0, int(to-from)+1)
	for block := uint64(from); block <= uint64(to); block++ {
		number := types.BlockNumber(block)
		updates, found, err := s.StateDiffForBlock(ctx, number)
		if err != nil {
			return nil, coreerrors.Storage(fmt.Sprintf("load state diff for block %d", number), err)
		}
		if !found {
			return nil, coreerrors.Inconsistent("sealed block %d in range [%d, %d] has no state diff", number, from, to)
		}
		jobs = append(jobs, types.BlockRootHashJob{Block: number, Updates: updates})
	}
	return jobs, nil
}
