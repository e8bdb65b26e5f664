package types

import "github.com/ethereum/go-ethereum/common"

// NFT is the registry entry of a minted non-fungible token.
type NFT struct {
	ID             TokenID        `json:"id"`
	SerialID       uint32         `json:"serialId"`
	CreatorID      AccountID      `json:"creatorId"`
	CreatorAddress common.Address `json:"creatorAddress"`
	Address        common.Address `json:"address"`
	Symbol         string         `json:"symbol"`
	ContentHash    common.Hash    `json:"contentHash"`
}
