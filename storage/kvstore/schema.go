package kvstore

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"rollupnode/core/types"
)

var (
	lastCommittedKey = []byte("meta/last-committed")
	lastSealedKey    = []byte("meta/last-sealed")
	pendingBlockKey  = []byte("meta/pending-block")
	nftIndexKey      = []byte("meta/nft-index")

	blockPrefix = []byte("block/")
	diffPrefix  = []byte("diff/")
	nftPrefix   = []byte("nft/")
)

func numberKey(prefix []byte, n uint32) []byte {
	buf := make([]byte, len(prefix)+4)
	copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[len(prefix):], n)
	return buf
}

func blockKey(n types.BlockNumber) []byte { return numberKey(blockPrefix, uint32(n)) }

func diffKey(n types.BlockNumber) []byte { return numberKey(diffPrefix, uint32(n)) }

func nftKey(id types.TokenID) []byte { return numberKey(nftPrefix, uint32(id)) }

func encodeNumber(n types.BlockNumber) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

// blockRecord is the RLP layout of types.Block. RLP has no optional scalars,
// so the root hash carries an explicit presence flag.
type blockRecord struct {
	Number     types.BlockNumber
	HasRoot    bool
	RootHash   common.Hash
	FeeAccount types.AccountID
	OpsBefore  uint64
	OpsAfter   uint64
	Timestamp  uint64
}

func newBlockRecord(b types.Block) blockRecord {
	rec := blockRecord{
		Number:     b.Number,
		FeeAccount: b.FeeAccount,
		OpsBefore:  b.ProcessedPriorityOps.Before,
		OpsAfter:   b.ProcessedPriorityOps.After,
		Timestamp:  b.Timestamp,
	}
	if b.RootHash != nil {
		rec.HasRoot = true
		rec.RootHash = *b.RootHash
	}
	return rec
}

func (rec blockRecord) block() *types.Block {
	b := &types.Block{
		Number:     rec.Number,
		FeeAccount: rec.FeeAccount,
		ProcessedPriorityOps: types.PriorityOpRange{
			Before: rec.OpsBefore,
			After:  rec.OpsAfter,
		},
		Timestamp: rec.Timestamp,
	}
	if rec.HasRoot {
		root := rec.RootHash
		b.RootHash = &root
	}
	return b
}

type nftRecord struct {
	NFT   types.NFT
	Block types.BlockNumber
}
