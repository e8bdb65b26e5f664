package sqlstore

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// nullableHash is a root hash column that stores SQL NULL when empty. sqlite
// drivers bind a nil []byte as a zero-length blob, which IS NULL never matches.
type nullableHash []byte

// GormDataType implements schema.GormDataTypeInterface.
func (nullableHash) GormDataType() string { return string(schema.Bytes) }

// Value implements driver.Valuer.
func (h nullableHash) Value() (driver.Value, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return []byte(h), nil
}

// Scan implements sql.Scanner.
func (h *nullableHash) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*h = nil
	case []byte:
		if len(v) == 0 {
			*h = nil
			return nil
		}
		*h = append(nullableHash(nil), v...)
	case string:
		if v == "" {
			*h = nil
			return nil
		}
		*h = nullableHash(v)
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into root hash", src)
	}
	return nil
}

// BlockRecord is a sealed block. RootHash stays NULL until the root hash
// calculator stores it.
type BlockRecord struct {
	Number     uint32 `gorm:"primaryKey;autoIncrement:false"`
	RootHash   nullableHash
	FeeAccount uint32
	OpsBefore  uint64 `gorm:"not null"`
	OpsAfter   uint64 `gorm:"not null"`
	Timestamp  uint64
	CreatedAt  time.Time
}

func (BlockRecord) TableName() string { return "blocks" }

// AccountUpdateRecord is one leaf update. Payload holds the JSON encoded
// types.AccountUpdate; order within a block is UpdateOrder.
type AccountUpdateRecord struct {
	ID          uint64 `gorm:"primaryKey"`
	BlockNumber uint32 `gorm:"not null;index:idx_account_updates_block_order,priority:1"`
	UpdateOrder uint32 `gorm:"not null;index:idx_account_updates_block_order,priority:2"`
	AccountID   uint32 `gorm:"not null;index"`
	Kind        uint8  `gorm:"not null"`
	Payload     []byte `gorm:"not null"`
}

func (AccountUpdateRecord) TableName() string { return "account_updates" }

// NFTRecord is a minted token and the block it was minted in.
type NFTRecord struct {
	TokenID        uint32 `gorm:"primaryKey;autoIncrement:false"`
	BlockNumber    uint32 `gorm:"not null;index"`
	SerialID       uint32
	CreatorID      uint32
	CreatorAddress []byte
	Address        []byte
	Symbol         string `gorm:"size:32"`
	ContentHash    []byte
}

func (NFTRecord) TableName() string { return "nfts" }

// PendingBlockRecord holds the single persisted pending block.
type PendingBlockRecord struct {
	ID        uint8  `gorm:"primaryKey;autoIncrement:false"`
	Number    uint32 `gorm:"not null"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (PendingBlockRecord) TableName() string { return "pending_block" }

const pendingBlockRowID = 1

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&BlockRecord{}, &AccountUpdateRecord{}, &NFTRecord{}, &PendingBlockRecord{})
}
