package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// BlockNumber is the height of a layer-2 block. Block 0 is the implicit
// genesis state that precedes every committed block.
type BlockNumber uint32

// PriorityOpRange records the cumulative priority operation counter before and
// after a block was applied.
type PriorityOpRange struct {
	Before uint64 `json:"before"`
	After  uint64 `json:"after"`
}

// Block is the persisted metadata of a sealed block. RootHash stays nil until
// the asynchronous root hash worker has computed it.
type Block struct {
	Number               BlockNumber     `json:"number"`
	RootHash             *common.Hash    `json:"rootHash,omitempty"`
	FeeAccount           AccountID       `json:"feeAccount"`
	ProcessedPriorityOps PriorityOpRange `json:"processedPriorityOps"`
	Timestamp            uint64          `json:"timestamp"`
}

// Hashed reports whether the block root hash has been persisted.
func (b *Block) Hashed() bool {
	return b != nil && b.RootHash != nil
}

// ExecutedTx is a transaction included in a pending block. Failed transactions
// keep the failure reason so the block can be resealed identically.
type ExecutedTx struct {
	Hash         common.Hash `json:"hash"`
	Payload      []byte      `json:"payload"`
	Success      bool        `json:"success"`
	FailReason   string      `json:"failReason,omitempty"`
	BlockIndex   uint32      `json:"blockIndex"`
	PriorityOpID uint64      `json:"priorityOpId,omitempty"`
	IsPriorityOp bool        `json:"isPriorityOp,omitempty"`
}

// PendingBlock is a speculatively assembled next block that has not been
// sealed yet. At most one exists at any time.
type PendingBlock struct {
	Number                      BlockNumber  `json:"number"`
	ChunksLeft                  uint32       `json:"chunksLeft"`
	UnprocessedPriorityOpBefore uint64       `json:"unprocessedPriorityOpBefore"`
	Iteration                   uint64       `json:"iteration"`
	SuccessOperations           []ExecutedTx `json:"successOperations"`
	FailedTxs                   []ExecutedTx `json:"failedTxs"`
	Timestamp                   uint64       `json:"timestamp"`
}

// Copy returns a deep copy of p. A nil block copies to nil.
func (p *PendingBlock) Copy() *PendingBlock {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.SuccessOperations = copyTxs(p.SuccessOperations)
	cpy.FailedTxs = copyTxs(p.FailedTxs)
	return &cpy
}

func copyTxs(txs []ExecutedTx) []ExecutedTx {
	if txs == nil {
		return nil
	}
	out := make([]ExecutedTx, len(txs))
	for i, tx := range txs {
		if tx.Payload != nil {
			tx.Payload = append(make([]byte, 0, len(tx.Payload)), tx.Payload...)
		}
		out[i] = tx
	}
	return out
}
