package statekeeper

import (
	"context"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
)

// UnprocessedPriorityOp returns the cumulative number of processed priority
// operations recorded for block, or 0 when block was never committed.
func UnprocessedPriorityOp(ctx context.Context, s Storage, block types.BlockNumber) (uint64, error) {
	if block == 0 {
		return 0, nil
	}
	meta, ok, err := s.BlockMetadata(ctx, block)
	if err != nil {
		return 0, coreerrors.Storage("load block metadata", err)
	}
	if !ok {
		return 0, nil
	}
	return meta.ProcessedPriorityOps.After, nil
}

// LoadNFTs returns the NFT registry as of block.
func LoadNFTs(ctx context.Context, s Storage, block types.BlockNumber) (map[types.TokenID]types.NFT, error) {
	tokens, err := s.CommittedNFTs(ctx, block)
	if err != nil {
		return nil, coreerrors.Storage("load committed nft tokens", err)
	}
	nfts := make(map[types.TokenID]types.NFT, len(tokens))
	for _, token := range tokens {
		nfts[token.ID] = token
	}
	return nfts, nil
}
