package statekeeper

import (
	"context"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
)

// PendingOutcome is the result of checking a persisted pending block against
// the restored height.
type PendingOutcome int

const (
	// PendingAbsent means no pending block was persisted.
	PendingAbsent PendingOutcome = iota
	// PendingAccepted means the block directly follows the restored height.
	PendingAccepted
	// PendingDiscarded means full blocks were sealed past the pending block
	// before the restart. The block is stale and dropped.
	PendingDiscarded
	// PendingInconsistent means the block skips at least one block.
	PendingInconsistent
)

func (o PendingOutcome) String() string {
	switch o {
	case PendingAbsent:
		return "absent"
	case PendingAccepted:
		return "accepted"
	case PendingDiscarded:
		return "discarded"
	case PendingInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// ValidatePendingBlock decides whether pending can be resumed on top of last.
// The block is returned only for PendingAccepted. PendingInconsistent also
// returns a *coreerrors.DataConsistencyError.
func ValidatePendingBlock(pending *types.PendingBlock, last types.BlockNumber) (*types.PendingBlock, PendingOutcome, error) {
	if pending == nil {
		return nil, PendingAbsent, nil
	}
	switch {
	case pending.Number <= last:
		return nil, PendingDiscarded, nil
	case uint64(pending.Number) == uint64(last)+1:
		return pending, PendingAccepted, nil
	default:
		return nil, PendingInconsistent, coreerrors.Inconsistent("pending block %d does not follow last committed block %d", pending.Number, last)
	}
}

// LoadPendingBlock fetches the persisted pending block and validates it.
func LoadPendingBlock(ctx context.Context, s Storage, last types.BlockNumber) (*types.PendingBlock, PendingOutcome, error) {
	pending, err := s.LoadPendingBlock(ctx)
	if err != nil {
		return nil, PendingAbsent, coreerrors.Storage("load pending block", err)
	}
	return ValidatePendingBlock(pending, last)
}
