// Package sqlstore persists chain progress in a relational database through
// gorm. Postgres is used in production; sqlite serves single-node setups and
// tests.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/types"
)

// Store implements statekeeper.Storage on top of gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. postgres:// and postgresql://
// DSNs select the postgres driver; anything else is handed to sqlite, with an
// optional sqlite:// prefix stripped.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: empty dsn")
	}
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already migrated connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func scanNumber(row *sql.Row) (types.BlockNumber, bool, error) {
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	return types.BlockNumber(v.Int64), true, nil
}

func (s *Store) lastSealed(tx *gorm.DB) (types.BlockNumber, error) {
	n, _, err := scanNumber(tx.Model(&BlockRecord{}).Select("MAX(number)").Row())
	return n, err
}

func (s *Store) firstUnhashed(tx *gorm.DB) (types.BlockNumber, bool, error) {
	return scanNumber(tx.Model(&BlockRecord{}).Where("root_hash IS NULL OR LENGTH(root_hash) = 0").Select("MIN(number)").Row())
}

// LastCommittedBlock implements staterestore.TreeStorage.
func (s *Store) LastCommittedBlock(ctx context.Context) (types.BlockNumber, error) {
	tx := s.db.WithContext(ctx)
	first, ok, err := s.firstUnhashed(tx)
	if err != nil {
		return 0, err
	}
	if ok {
		return first - 1, nil
	}
	return s.lastSealed(tx)
}

// LoadCommittedUpdates implements staterestore.TreeStorage.
func (s *Store) LoadCommittedUpdates(ctx context.Context, upTo types.BlockNumber) ([]types.BlockUpdates, error) {
	tx := s.db.WithContext(ctx)
	var sealed int64
	if err := tx.Model(&BlockRecord{}).Where("number BETWEEN ? AND ?", 1, upTo).Count(&sealed).Error; err != nil {
		return nil, err
	}
	if sealed != int64(upTo) {
		return nil, coreerrors.Inconsistent("%d of %d committed blocks are stored", sealed, upTo)
	}

	var rows []AccountUpdateRecord
	err := tx.Where("block_number BETWEEN ? AND ?", 1, upTo).
		Order("block_number ASC").
		Order("update_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	var blocks []types.BlockUpdates
	for _, row := range rows {
		entry, err := decodeUpdate(row)
		if err != nil {
			return nil, err
		}
		n := types.BlockNumber(row.BlockNumber)
		if len(blocks) == 0 || blocks[len(blocks)-1].Block != n {
			blocks = append(blocks, types.BlockUpdates{Block: n})
		}
		last := &blocks[len(blocks)-1]
		last.Updates = append(last.Updates, entry)
	}
	if blocks == nil {
		blocks = []types.BlockUpdates{}
	}
	return blocks, nil
}

// BlockMetadata implements staterestore.TreeStorage.
func (s *Store) BlockMetadata(ctx context.Context, n types.BlockNumber) (*types.Block, bool, error) {
	var rec BlockRecord
	err := s.db.WithContext(ctx).Where("number = ?", n).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	block, err := rec.block()
	if err != nil {
		return nil, false, err
	}
	return block, true, nil
}

// LoadPendingBlock implements statekeeper.Storage.
func (s *Store) LoadPendingBlock(ctx context.Context) (*types.PendingBlock, error) {
	var rec PendingBlockRecord
	err := s.db.WithContext(ctx).Where("id = ?", pendingBlockRowID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pending := new(types.PendingBlock)
	if err := json.Unmarshal(rec.Payload, pending); err != nil {
		return nil, fmt.Errorf("decode pending block: %w", err)
	}
	return pending, nil
}

// IncompleteBlocksRange implements statekeeper.Storage.
func (s *Store) IncompleteBlocksRange(ctx context.Context) (types.BlockNumber, types.BlockNumber, bool, error) {
	tx := s.db.WithContext(ctx)
	first, ok, err := s.firstUnhashed(tx)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	last, err := s.lastSealed(tx)
	if err != nil {
		return 0, 0, false, err
	}
	return first, last, true, nil
}

// StateDiffForBlock implements statekeeper.Storage. A sealed block with no
// update rows has an empty diff.
func (s *Store) StateDiffForBlock(ctx context.Context, n types.BlockNumber) (types.AccountUpdates, bool, error) {
	tx := s.db.WithContext(ctx)
	var count int64
	if err := tx.Model(&BlockRecord{}).Where("number = ?", n).Count(&count).Error; err != nil {
		return nil, false, err
	}
	if count == 0 {
		return nil, false, nil
	}
	var rows []AccountUpdateRecord
	if err := tx.Where("block_number = ?", n).Order("update_order ASC").Find(&rows).Error; err != nil {
		return nil, false, err
	}
	updates := make(types.AccountUpdates, 0, len(rows))
	for _, row := range rows {
		entry, err := decodeUpdate(row)
		if err != nil {
			return nil, false, err
		}
		updates = append(updates, entry)
	}
	return updates, true, nil
}

// CommittedNFTs implements statekeeper.Storage.
func (s *Store) CommittedNFTs(ctx context.Context, upTo types.BlockNumber) ([]types.NFT, error) {
	var rows []NFTRecord
	err := s.db.WithContext(ctx).
		Where("block_number <= ?", upTo).
		Order("token_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	nfts := make([]types.NFT, 0, len(rows))
	for _, row := range rows {
		nfts = append(nfts, row.nft())
	}
	return nfts, nil
}

// SaveBlock seals block with its ordered diff. Blocks must be sealed in order.
func (s *Store) SaveBlock(ctx context.Context, block types.Block, diff types.AccountUpdates) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sealed, err := s.lastSealed(tx)
		if err != nil {
			return err
		}
		if uint64(block.Number) != uint64(sealed)+1 {
			return fmt.Errorf("seal block %d: expected block %d", block.Number, uint64(sealed)+1)
		}
		if err := tx.Create(newBlockRecord(block)).Error; err != nil {
			return fmt.Errorf("seal block %d: %w", block.Number, err)
		}
		if len(diff) == 0 {
			return nil
		}
		rows := make([]AccountUpdateRecord, 0, len(diff))
		for i, entry := range diff {
			payload, err := json.Marshal(entry.Update)
			if err != nil {
				return fmt.Errorf("encode update %d of block %d: %w", i, block.Number, err)
			}
			rows = append(rows, AccountUpdateRecord{
				BlockNumber: uint32(block.Number),
				UpdateOrder: uint32(i),
				AccountID:   uint32(entry.AccountID),
				Kind:        uint8(entry.Update.Kind),
				Payload:     payload,
			})
		}
		return tx.Create(&rows).Error
	})
}

// StoreRootHash records the computed root of block n.
func (s *Store) StoreRootHash(ctx context.Context, n types.BlockNumber, root common.Hash) error {
	res := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("number = ?", n).
		Update("root_hash", nullableHash(root.Bytes()))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store root hash: block %d is not sealed", n)
	}
	return nil
}

// SaveNFT records a token minted in block.
func (s *Store) SaveNFT(ctx context.Context, nft types.NFT, block types.BlockNumber) error {
	rec := newNFTRecord(nft, block)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// SavePendingBlock replaces the persisted pending block.
func (s *Store) SavePendingBlock(ctx context.Context, pending *types.PendingBlock) error {
	if pending == nil {
		return s.RemovePendingBlock(ctx)
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending block: %w", err)
	}
	rec := PendingBlockRecord{ID: pendingBlockRowID, Number: uint32(pending.Number), Payload: payload}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// RemovePendingBlock drops the persisted pending block, if any.
func (s *Store) RemovePendingBlock(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("id = ?", pendingBlockRowID).Delete(&PendingBlockRecord{}).Error
}

func newBlockRecord(b types.Block) *BlockRecord {
	rec := &BlockRecord{
		Number:     uint32(b.Number),
		FeeAccount: uint32(b.FeeAccount),
		OpsBefore:  b.ProcessedPriorityOps.Before,
		OpsAfter:   b.ProcessedPriorityOps.After,
		Timestamp:  b.Timestamp,
	}
	if b.RootHash != nil {
		rec.RootHash = b.RootHash.Bytes()
	}
	return rec
}

func (rec BlockRecord) block() (*types.Block, error) {
	b := &types.Block{
		Number:     types.BlockNumber(rec.Number),
		FeeAccount: types.AccountID(rec.FeeAccount),
		ProcessedPriorityOps: types.PriorityOpRange{
			Before: rec.OpsBefore,
			After:  rec.OpsAfter,
		},
		Timestamp: rec.Timestamp,
	}
	if len(rec.RootHash) > 0 {
		if len(rec.RootHash) != common.HashLength {
			return nil, fmt.Errorf("block %d: malformed root hash of %d bytes", rec.Number, len(rec.RootHash))
		}
		root := common.BytesToHash(rec.RootHash)
		b.RootHash = &root
	}
	return b, nil
}

func decodeUpdate(row AccountUpdateRecord) (types.AccountUpdateEntry, error) {
	var upd types.AccountUpdate
	if err := json.Unmarshal(row.Payload, &upd); err != nil {
		return types.AccountUpdateEntry{}, fmt.Errorf("decode update %d of block %d: %w", row.UpdateOrder, row.BlockNumber, err)
	}
	if uint8(upd.Kind) != row.Kind {
		return types.AccountUpdateEntry{}, coreerrors.Inconsistent("update %d of block %d: kind column %d disagrees with payload %s", row.UpdateOrder, row.BlockNumber, row.Kind, upd.Kind)
	}
	return types.AccountUpdateEntry{AccountID: types.AccountID(row.AccountID), Update: upd}, nil
}

func newNFTRecord(nft types.NFT, block types.BlockNumber) NFTRecord {
	return NFTRecord{
		TokenID:        uint32(nft.ID),
		BlockNumber:    uint32(block),
		SerialID:       nft.SerialID,
		CreatorID:      uint32(nft.CreatorID),
		CreatorAddress: nft.CreatorAddress.Bytes(),
		Address:        nft.Address.Bytes(),
		Symbol:         nft.Symbol,
		ContentHash:    nft.ContentHash.Bytes(),
	}
}

func (rec NFTRecord) nft() types.NFT {
	return types.NFT{
		ID:             types.TokenID(rec.TokenID),
		SerialID:       rec.SerialID,
		CreatorID:      types.AccountID(rec.CreatorID),
		CreatorAddress: common.BytesToAddress(rec.CreatorAddress),
		Address:        common.BytesToAddress(rec.Address),
		Symbol:         rec.Symbol,
		ContentHash:    common.BytesToHash(rec.ContentHash),
	}
}
