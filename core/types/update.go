package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountUpdateKind enumerates the leaf changes a block can produce.
type AccountUpdateKind uint8

const (
	UpdateCreate AccountUpdateKind = iota + 1
	UpdateDelete
	UpdateBalance
	UpdatePubKeyHash
	UpdateMintNFT
	UpdateRemoveNFT
)

func (k AccountUpdateKind) String() string {
	switch k {
	case UpdateCreate:
		return "create"
	case UpdateDelete:
		return "delete"
	case UpdateBalance:
		return "balance"
	case UpdatePubKeyHash:
		return "pubkey-hash"
	case UpdateMintNFT:
		return "mint-nft"
	case UpdateRemoveNFT:
		return "remove-nft"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// AccountUpdate is one leaf change. Only the fields relevant to Kind are set.
type AccountUpdate struct {
	Kind          AccountUpdateKind `json:"kind"`
	Address       common.Address    `json:"address"`
	OldNonce      uint64            `json:"oldNonce"`
	NewNonce      uint64            `json:"newNonce"`
	Token         TokenID           `json:"token"`
	OldBalance    *uint256.Int      `json:"oldBalance,omitempty"`
	NewBalance    *uint256.Int      `json:"newBalance,omitempty"`
	OldPubKeyHash PubKeyHash        `json:"oldPubKeyHash"`
	NewPubKeyHash PubKeyHash        `json:"newPubKeyHash"`
	NFT           *NFT              `json:"nft,omitempty" rlp:"nil"`
}

// AccountUpdateEntry binds an update to the leaf it changes.
type AccountUpdateEntry struct {
	AccountID AccountID     `json:"accountId"`
	Update    AccountUpdate `json:"update"`
}

// AccountUpdates is the ordered state diff of one block.
type AccountUpdates []AccountUpdateEntry

// BlockUpdates pairs a block with its ordered state diff.
type BlockUpdates struct {
	Block   BlockNumber
	Updates AccountUpdates
}

// BlockRootHashJob is one block whose diff is finalized but whose root hash
// has not been computed yet.
type BlockRootHashJob struct {
	Block   BlockNumber
	Updates AccountUpdates
}

// CreateAccountUpdate returns the update that opens a new leaf.
func CreateAccountUpdate(id AccountID, addr common.Address, nonce uint64) AccountUpdateEntry {
	return AccountUpdateEntry{
		AccountID: id,
		Update:    AccountUpdate{Kind: UpdateCreate, Address: addr, NewNonce: nonce},
	}
}

// DeleteAccountUpdate returns the update that clears a leaf.
func DeleteAccountUpdate(id AccountID, addr common.Address, nonce uint64) AccountUpdateEntry {
	return AccountUpdateEntry{
		AccountID: id,
		Update:    AccountUpdate{Kind: UpdateDelete, Address: addr, OldNonce: nonce},
	}
}

// BalanceUpdate returns an update moving token balance from old to new.
func BalanceUpdate(id AccountID, token TokenID, oldBal, newBal *uint256.Int, oldNonce, newNonce uint64) AccountUpdateEntry {
	return AccountUpdateEntry{
		AccountID: id,
		Update: AccountUpdate{
			Kind:       UpdateBalance,
			Token:      token,
			OldBalance: oldBal,
			NewBalance: newBal,
			OldNonce:   oldNonce,
			NewNonce:   newNonce,
		},
	}
}

// Apply returns the account state that results from applying upd to acc. A
// nil account means the leaf is empty; a nil result means the leaf is cleared.
// acc is never mutated.
func (upd AccountUpdate) Apply(acc *Account) (*Account, error) {
	switch upd.Kind {
	case UpdateCreate:
		if acc != nil {
			return nil, fmt.Errorf("create over existing account %s", acc.Address.Hex())
		}
		return NewAccount(upd.Address, upd.NewNonce), nil
	case UpdateDelete:
		if acc == nil {
			return nil, fmt.Errorf("delete of empty leaf")
		}
		if acc.Address != upd.Address {
			return nil, fmt.Errorf("delete address mismatch: leaf %s update %s", acc.Address.Hex(), upd.Address.Hex())
		}
		return nil, nil
	}

	if acc == nil {
		return nil, fmt.Errorf("%s update of empty leaf", upd.Kind)
	}
	next := acc.Copy()
	switch upd.Kind {
	case UpdateBalance:
		next.SetBalance(upd.Token, upd.NewBalance)
		next.Nonce = upd.NewNonce
	case UpdatePubKeyHash:
		next.PubKeyHash = upd.NewPubKeyHash
		next.Nonce = upd.NewNonce
	case UpdateMintNFT, UpdateRemoveNFT:
		if upd.NFT == nil {
			return nil, fmt.Errorf("%s update without token", upd.Kind)
		}
		next.Nonce = upd.NewNonce
	default:
		return nil, fmt.Errorf("unknown account update kind %d", uint8(upd.Kind))
	}
	return next, nil
}
