package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
	"rollupnode/storage"
)

// Store persists chain progress in a key-value database. Block metadata, diffs
// and NFT records are RLP encoded under big-endian numbered keys.
//
// Blocks are sealed in order. The committed prefix is the longest run of
// sealed blocks whose root hash is stored; the sealed blocks after it form the
// incomplete range.
type Store struct {
	mu sync.Mutex
	db storage.Database
}

// New binds a store to db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return coreerrors.Storage("close database", err)
	}
	return nil
}

func (s *Store) readNumber(key []byte) (types.BlockNumber, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("malformed block number under %q", key)
	}
	return types.BlockNumber(binary.BigEndian.Uint32(raw)), nil
}

func (s *Store) readBlock(n types.BlockNumber) (*blockRecord, error) {
	raw, err := s.db.Get(blockKey(n))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := new(blockRecord)
	if err := rlp.DecodeBytes(raw, rec); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", n, err)
	}
	return rec, nil
}

// LastCommittedBlock implements staterestore.TreeStorage.
func (s *Store) LastCommittedBlock(ctx context.Context) (types.BlockNumber, error) {
	return s.readNumber(lastCommittedKey)
}

// LoadCommittedUpdates implements staterestore.TreeStorage.
func (s *Store) LoadCommittedUpdates(ctx context.Context, upTo types.BlockNumber) ([]types.BlockUpdates, error) {
	blocks := make([]types.BlockUpdates, 0, int(upTo))
	for n := uint64(1); n <= uint64(upTo); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		number := types.BlockNumber(n)
		updates, found, err := s.StateDiffForBlock(ctx, number)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, coreerrors.Inconsistent("committed block %d has no state diff", number)
		}
		if len(updates) == 0 {
			continue
		}
		blocks = append(blocks, types.BlockUpdates{Block: number, Updates: updates})
	}
	return blocks, nil
}

// BlockMetadata implements staterestore.TreeStorage.
func (s *Store) BlockMetadata(ctx context.Context, n types.BlockNumber) (*types.Block, bool, error) {
	rec, err := s.readBlock(n)
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec.block(), true, nil
}

// LoadPendingBlock implements statekeeper.Storage.
func (s *Store) LoadPendingBlock(ctx context.Context) (*types.PendingBlock, error) {
	raw, err := s.db.Get(pendingBlockKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pending := new(types.PendingBlock)
	if err := json.Unmarshal(raw, pending); err != nil {
		return nil, fmt.Errorf("decode pending block: %w", err)
	}
	return pending, nil
}

// IncompleteBlocksRange implements statekeeper.Storage.
func (s *Store) IncompleteBlocksRange(ctx context.Context) (types.BlockNumber, types.BlockNumber, bool, error) {
	committed, err := s.readNumber(lastCommittedKey)
	if err != nil {
		return 0, 0, false, err
	}
	sealed, err := s.readNumber(lastSealedKey)
	if err != nil {
		return 0, 0, false, err
	}
	if sealed <= committed {
		return 0, 0, false, nil
	}
	return committed + 1, sealed, true, nil
}

// StateDiffForBlock implements statekeeper.Storage.
func (s *Store) StateDiffForBlock(ctx context.Context, n types.BlockNumber) (types.AccountUpdates, bool, error) {
	raw, err := s.db.Get(diffKey(n))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var updates types.AccountUpdates
	if err := rlp.DecodeBytes(raw, &updates); err != nil {
		return nil, false, fmt.Errorf("decode state diff of block %d: %w", n, err)
	}
	return updates, true, nil
}

// CommittedNFTs implements statekeeper.Storage.
func (s *Store) CommittedNFTs(ctx context.Context, upTo types.BlockNumber) ([]types.NFT, error) {
	ids, err := s.nftIndex()
	if err != nil {
		return nil, err
	}
	nfts := make([]types.NFT, 0, len(ids))
	for _, id := range ids {
		raw, err := s.db.Get(nftKey(id))
		if err != nil {
			return nil, fmt.Errorf("load nft %d: %w", id, err)
		}
		var rec nftRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode nft %d: %w", id, err)
		}
		if rec.Block <= upTo {
			nfts = append(nfts, rec.NFT)
		}
	}
	return nfts, nil
}

func (s *Store) nftIndex() ([]types.TokenID, error) {
	raw, err := s.db.Get(nftIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []types.TokenID
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode nft index: %w", err)
	}
	return ids, nil
}

// SaveBlock seals block with its ordered diff. Blocks must be sealed in order.
// A block that already carries a root hash is committed immediately.
func (s *Store) SaveBlock(ctx context.Context, block types.Block, diff types.AccountUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.readNumber(lastSealedKey)
	if err != nil {
		return err
	}
	if uint64(block.Number) != uint64(sealed)+1 {
		return fmt.Errorf("seal block %d: expected block %d", block.Number, uint64(sealed)+1)
	}
	encBlock, err := rlp.EncodeToBytes(newBlockRecord(block))
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.Number, err)
	}
	if diff == nil {
		diff = types.AccountUpdates{}
	}
	encDiff, err := rlp.EncodeToBytes(diff)
	if err != nil {
		return fmt.Errorf("encode state diff of block %d: %w", block.Number, err)
	}

	batch := s.db.NewBatch()
	batch.Put(blockKey(block.Number), encBlock)
	batch.Put(diffKey(block.Number), encDiff)
	batch.Put(lastSealedKey, encodeNumber(block.Number))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("seal block %d: %w", block.Number, err)
	}
	if block.RootHash != nil {
		return s.advanceCommitted()
	}
	return nil
}

// StoreRootHash records the computed root of block n and advances the
// committed prefix over every contiguous hashed block.
func (s *Store) StoreRootHash(ctx context.Context, n types.BlockNumber, root common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readBlock(n)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("store root hash: block %d is not sealed", n)
	}
	rec.HasRoot = true
	rec.RootHash = root
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", n, err)
	}
	if err := s.db.Put(blockKey(n), enc); err != nil {
		return err
	}
	return s.advanceCommitted()
}

func (s *Store) advanceCommitted() error {
	committed, err := s.readNumber(lastCommittedKey)
	if err != nil {
		return err
	}
	next := committed
	for {
		rec, err := s.readBlock(next + 1)
		if err != nil {
			return err
		}
		if rec == nil || !rec.HasRoot {
			break
		}
		next++
	}
	if next == committed {
		return nil
	}
	return s.db.Put(lastCommittedKey, encodeNumber(next))
}

// SaveNFT records a token minted in block. Saving a known token rewrites its
// record and leaves the index untouched.
func (s *Store) SaveNFT(ctx context.Context, nft types.NFT, block types.BlockNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, err := s.db.Has(nftKey(nft.ID))
	if err != nil {
		return err
	}
	enc, err := rlp.EncodeToBytes(&nftRecord{NFT: nft, Block: block})
	if err != nil {
		return fmt.Errorf("encode nft %d: %w", nft.ID, err)
	}
	batch := s.db.NewBatch()
	batch.Put(nftKey(nft.ID), enc)
	if !known {
		ids, err := s.nftIndex()
		if err != nil {
			return err
		}
		idx := sort.Search(len(ids), func(i int) bool { return ids[i] >= nft.ID })
		ids = append(ids, 0)
		copy(ids[idx+1:], ids[idx:])
		ids[idx] = nft.ID
		encIdx, err := rlp.EncodeToBytes(ids)
		if err != nil {
			return fmt.Errorf("encode nft index: %w", err)
		}
		batch.Put(nftIndexKey, encIdx)
	}
	return batch.Write()
}

// SavePendingBlock replaces the persisted pending block.
func (s *Store) SavePendingBlock(ctx context.Context, pending *types.PendingBlock) error {
	if pending == nil {
		return s.RemovePendingBlock(ctx)
	}
	enc, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending block: %w", err)
	}
	return s.db.Put(pendingBlockKey, enc)
}

// RemovePendingBlock drops the persisted pending block, if any.
func (s *Store) RemovePendingBlock(ctx context.Context) error {
	return s.db.Delete(pendingBlockKey)
}
