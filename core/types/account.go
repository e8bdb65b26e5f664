package types

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// AccountID is the index of an account leaf in the account tree.
type AccountID uint32

// TokenID identifies a fungible token or an NFT.
type TokenID uint32

// PubKeyHash is the hash of the layer-2 signing key bound to an account.
type PubKeyHash [20]byte

// Account is a single ledger entry committed to by one account tree leaf.
type Account struct {
	Address    common.Address           `json:"address"`
	Nonce      uint64                   `json:"nonce"`
	PubKeyHash PubKeyHash               `json:"pubKeyHash"`
	Balances   map[TokenID]*uint256.Int `json:"balances,omitempty"`
}

// NewAccount returns an empty account owned by addr.
func NewAccount(addr common.Address, nonce uint64) *Account {
	return &Account{
		Address:  addr,
		Nonce:    nonce,
		Balances: make(map[TokenID]*uint256.Int),
	}
}

// Balance returns the balance of token, zero when the account never held it.
func (a *Account) Balance(token TokenID) *uint256.Int {
	if a == nil || a.Balances == nil {
		return new(uint256.Int)
	}
	if bal, ok := a.Balances[token]; ok && bal != nil {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// SetBalance stores the balance of token. Zero balances are pruned.
func (a *Account) SetBalance(token TokenID, amount *uint256.Int) {
	if a.Balances == nil {
		a.Balances = make(map[TokenID]*uint256.Int)
	}
	if amount == nil || amount.IsZero() {
		delete(a.Balances, token)
		return
	}
	a.Balances[token] = new(uint256.Int).Set(amount)
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	cpy := &Account{
		Address:    a.Address,
		Nonce:      a.Nonce,
		PubKeyHash: a.PubKeyHash,
		Balances:   make(map[TokenID]*uint256.Int, len(a.Balances)),
	}
	for token, bal := range a.Balances {
		if bal != nil {
			cpy.Balances[token] = new(uint256.Int).Set(bal)
		}
	}
	return cpy
}

type balanceEntry struct {
	Token  TokenID
	Amount *uint256.Int
}

type accountRLP struct {
	Address    common.Address
	Nonce      uint64
	PubKeyHash PubKeyHash
	Balances   []balanceEntry
}

// EncodeLeaf returns the canonical leaf encoding of the account. Balances are
// sorted by token id so equal accounts always encode identically.
func (a *Account) EncodeLeaf() ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("nil account")
	}
	enc := accountRLP{
		Address:    a.Address,
		Nonce:      a.Nonce,
		PubKeyHash: a.PubKeyHash,
		Balances:   make([]balanceEntry, 0, len(a.Balances)),
	}
	for token, bal := range a.Balances {
		if bal == nil || bal.IsZero() {
			continue
		}
		enc.Balances = append(enc.Balances, balanceEntry{Token: token, Amount: bal})
	}
	sort.Slice(enc.Balances, func(i, j int) bool {
		return enc.Balances[i].Token < enc.Balances[j].Token
	})
	return rlp.EncodeToBytes(&enc)
}

// DecodeAccountLeaf parses a leaf produced by EncodeLeaf.
func DecodeAccountLeaf(data []byte) (*Account, error) {
	var dec accountRLP
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return nil, fmt.Errorf("decode account leaf: %w", err)
	}
	acc := NewAccount(dec.Address, dec.Nonce)
	acc.PubKeyHash = dec.PubKeyHash
	for _, entry := range dec.Balances {
		acc.SetBalance(entry.Token, entry.Amount)
	}
	return acc, nil
}
