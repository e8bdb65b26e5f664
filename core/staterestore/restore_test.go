package staterestore

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
	"rollupnode/storage/trie"
)

type memTreeStorage struct {
	last    types.BlockNumber
	blocks  []types.BlockUpdates
	meta    map[types.BlockNumber]*types.Block
	lastErr error
	loadErr error
}

func (m *memTreeStorage) LastCommittedBlock(context.Context) (types.BlockNumber, error) {
	return m.last, m.lastErr
}

func (m *memTreeStorage) LoadCommittedUpdates(_ context.Context, upTo types.BlockNumber) ([]types.BlockUpdates, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []types.BlockUpdates
	for _, b := range m.blocks {
		if b.Block <= upTo {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memTreeStorage) BlockMetadata(_ context.Context, n types.BlockNumber) (*types.Block, bool, error) {
	b, ok := m.meta[n]
	return b, ok, nil
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// seal commits blocks with their reference roots and returns the storage.
func seal(t *testing.T, blocks ...types.AccountUpdates) *memTreeStorage {
	t.Helper()
	ref := trie.NewAccountTree(trie.AccountTreeDepth)
	index := make(map[common.Address]types.AccountID)
	m := &memTreeStorage{meta: make(map[types.BlockNumber]*types.Block)}
	for i, diff := range blocks {
		n := types.BlockNumber(i + 1)
		for _, entry := range diff {
			require.NoError(t, ApplyUpdate(ref, index, entry))
		}
		root := ref.Root()
		m.meta[n] = &types.Block{Number: n, RootHash: &root}
		if len(diff) > 0 {
			m.blocks = append(m.blocks, types.BlockUpdates{Block: n, Updates: diff})
		}
		m.last = n
	}
	return m
}

func TestRestoreEmptyStorage(t *testing.T) {
	restored, err := NewRestorer(&memTreeStorage{}).Restore(context.Background())
	require.NoError(t, err)
	require.Zero(t, restored.LastBlock)
	require.Zero(t, restored.Tree.Size())
	require.Empty(t, restored.AccIDByAddr)
	require.Equal(t, trie.NewAccountTree(trie.AccountTreeDepth).Root(), restored.Tree.Root())
}

func TestRestoreReplaysBlocksInOrder(t *testing.T) {
	m := seal(t,
		types.AccountUpdates{
			types.CreateAccountUpdate(1, alice, 0),
			types.BalanceUpdate(1, 0, nil, uint256.NewInt(500), 0, 0),
		},
		nil,
		types.AccountUpdates{
			types.CreateAccountUpdate(2, bob, 0),
			types.BalanceUpdate(1, 0, uint256.NewInt(500), uint256.NewInt(200), 0, 1),
			types.BalanceUpdate(2, 0, nil, uint256.NewInt(300), 0, 0),
		},
	)

	restored, err := NewRestorer(m).Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(3), restored.LastBlock)
	require.Equal(t, *m.meta[3].RootHash, restored.Tree.Root())
	require.Equal(t, map[common.Address]types.AccountID{alice: 1, bob: 2}, restored.AccIDByAddr)

	acc, ok := restored.Tree.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(200), acc.Balance(0).Uint64())
	require.Equal(t, uint64(1), acc.Nonce)
}

func TestRestoreKeepsIndexInBijectionAfterDelete(t *testing.T) {
	m := seal(t,
		types.AccountUpdates{types.CreateAccountUpdate(1, alice, 0)},
		types.AccountUpdates{types.DeleteAccountUpdate(1, alice, 0)},
		types.AccountUpdates{types.CreateAccountUpdate(1, bob, 0)},
	)

	restored, err := NewRestorer(m).Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[common.Address]types.AccountID{bob: 1}, restored.AccIDByAddr)
	require.Equal(t, 1, restored.Tree.Size())
	require.NoError(t, restored.checkIndex())

	restored.AccIDByAddr[alice] = 1
	require.ErrorIs(t, restored.checkIndex(), coreerrors.ErrDataConsistency)
	delete(restored.AccIDByAddr, alice)
	restored.AccIDByAddr[bob] = 2
	require.ErrorIs(t, restored.checkIndex(), coreerrors.ErrDataConsistency)
}

func TestRestoreRejectsRootMismatch(t *testing.T) {
	m := seal(t, types.AccountUpdates{types.CreateAccountUpdate(1, alice, 0)})
	bogus := common.HexToHash("0xdead")
	m.meta[1].RootHash = &bogus

	_, err := NewRestorer(m).Restore(context.Background())
	require.ErrorIs(t, err, coreerrors.ErrDataConsistency)
}

func TestRestoreRejectsMissingRoot(t *testing.T) {
	m := seal(t, types.AccountUpdates{types.CreateAccountUpdate(1, alice, 0)})
	m.meta[1].RootHash = nil

	_, err := NewRestorer(m).Restore(context.Background())
	require.ErrorIs(t, err, coreerrors.ErrDataConsistency)
}

func TestRestoreRejectsUnapplicableUpdate(t *testing.T) {
	m := seal(t, types.AccountUpdates{types.CreateAccountUpdate(1, alice, 0)})
	m.blocks = append(m.blocks, types.BlockUpdates{
		Block:   2,
		Updates: types.AccountUpdates{types.DeleteAccountUpdate(5, bob, 0)},
	})
	m.last = 2

	_, err := NewRestorer(m).Restore(context.Background())
	var dce *coreerrors.DataConsistencyError
	require.ErrorAs(t, err, &dce)
}

func TestRestoreRejectsOutOfOrderBlocks(t *testing.T) {
	m := seal(t,
		types.AccountUpdates{types.CreateAccountUpdate(1, alice, 0)},
		types.AccountUpdates{types.CreateAccountUpdate(2, bob, 0)},
	)
	m.blocks[0], m.blocks[1] = m.blocks[1], m.blocks[0]

	_, err := NewRestorer(m).Restore(context.Background())
	require.ErrorIs(t, err, coreerrors.ErrDataConsistency)
}

func TestRestoreRejectsDuplicateAddress(t *testing.T) {
	m := seal(t, types.AccountUpdates{types.CreateAccountUpdate(1, alice, 0)})
	m.blocks = append(m.blocks, types.BlockUpdates{
		Block:   2,
		Updates: types.AccountUpdates{types.CreateAccountUpdate(2, alice, 0)},
	})
	m.last = 2

	_, err := NewRestorer(m).Restore(context.Background())
	require.ErrorIs(t, err, coreerrors.ErrDataConsistency)
}

func TestRestoreWrapsStorageFailures(t *testing.T) {
	boom := errors.New("disk on fire")

	_, err := NewRestorer(&memTreeStorage{lastErr: boom}).Restore(context.Background())
	require.ErrorIs(t, err, coreerrors.ErrStorage)
	require.ErrorIs(t, err, boom)

	_, err = NewRestorer(&memTreeStorage{last: 1, loadErr: boom}).Restore(context.Background())
	var se *coreerrors.StorageError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, boom)
}

func TestRestoreWithSmallerDepth(t *testing.T) {
	restored, err := NewRestorer(&memTreeStorage{}, WithDepth(4)).Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, restored.Tree.Depth())
}
