package staterestore

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"rollupnode/core/types"
	"rollupnode/storage/trie"
)

// ApplyUpdate applies one leaf update to tree and, when index is non-nil,
// keeps the address index in bijection with the populated leaves.
func ApplyUpdate(tree *trie.AccountTree, index map[common.Address]types.AccountID, entry types.AccountUpdateEntry) error {
	current, _ := tree.Get(entry.AccountID)
	next, err := entry.Update.Apply(current)
	if err != nil {
		return err
	}

	if next == nil {
		tree.Remove(entry.AccountID)
		if index != nil {
			delete(index, current.Address)
		}
		return nil
	}

	if index != nil && current == nil {
		if owner, taken := index[next.Address]; taken && owner != entry.AccountID {
			return fmt.Errorf("address %s already bound to account %d", next.Address.Hex(), owner)
		}
	}
	if err := tree.Insert(entry.AccountID, next); err != nil {
		return err
	}
	if index != nil && current == nil {
		index[next.Address] = entry.AccountID
	}
	return nil
}
