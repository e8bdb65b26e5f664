package roothash

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/staterestore"
	"rollupnode/core/types"
	"rollupnode/observability/metrics"
	"rollupnode/storage/trie"
)

// RootHashStore persists computed block roots.
type RootHashStore interface {
	StoreRootHash(ctx context.Context, n types.BlockNumber, root common.Hash) error
}

// BlockRootHashResult is the computed root of one block.
type BlockRootHashResult struct {
	Block types.BlockNumber
	Root  common.Hash
}

// Calculator computes block roots strictly in block order. Each job's diff is
// applied on top of the root left by the previous job, so jobs can never be
// skipped or reordered.
type Calculator struct {
	tree    *trie.AccountTree
	last    atomic.Uint32
	sealed  types.BlockNumber
	store   RootHashStore
	logger  *slog.Logger
	metrics *metrics.RestoreMetrics
}

// Option customises a Calculator.
type Option func(*Calculator)

// WithLogger sets the logger used to report job failures and progress.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records processed jobs and the remaining backlog on m.
func WithMetrics(m *metrics.RestoreMetrics) Option {
	return func(c *Calculator) { c.metrics = m }
}

// WithSealedHeight sets the last sealed block, the height the calculator is
// working towards. It defaults to the starting block.
func WithSealedHeight(n types.BlockNumber) Option {
	return func(c *Calculator) { c.sealed = n }
}

// NewCalculator starts from tree, which must hold the state of block last.
// The calculator takes ownership of tree.
func NewCalculator(tree *trie.AccountTree, last types.BlockNumber, store RootHashStore, opts ...Option) *Calculator {
	c := &Calculator{
		tree:   tree,
		store:  store,
		logger: slog.Default(),
	}
	c.last.Store(uint32(last))
	c.sealed = last
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backlog returns the number of sealed blocks still waiting for a root hash.
func (c *Calculator) Backlog() int {
	last := c.LastBlock()
	if c.sealed <= last {
		return 0
	}
	return int(c.sealed - last)
}

// LastBlock returns the last block whose root was computed. It is safe to
// call while Run is active.
func (c *Calculator) LastBlock() types.BlockNumber {
	return types.BlockNumber(c.last.Load())
}

// Process applies one job and persists its root. Process and Run must not be
// called concurrently.
func (c *Calculator) Process(ctx context.Context, job types.BlockRootHashJob) (BlockRootHashResult, error) {
	last := c.LastBlock()
	if uint64(job.Block) != uint64(last)+1 {
		return BlockRootHashResult{}, coreerrors.Inconsistent("root hash job for block %d received after block %d", job.Block, last)
	}
	for i, entry := range job.Updates {
		if err := staterestore.ApplyUpdate(c.tree, nil, entry); err != nil {
			return BlockRootHashResult{}, coreerrors.Inconsistent("block %d update %d (account %d): %v", job.Block, i, entry.AccountID, err)
		}
	}
	root := c.tree.Root()
	if c.store != nil {
		if err := c.store.StoreRootHash(ctx, job.Block, root); err != nil {
			return BlockRootHashResult{}, coreerrors.Storage(fmt.Sprintf("store root hash of block %d", job.Block), err)
		}
	}
	c.last.Store(uint32(job.Block))
	return BlockRootHashResult{Block: job.Block, Root: root}, nil
}

// Run consumes jobs until the channel is closed or ctx is cancelled. Results
// are published on results when it is non-nil.
func (c *Calculator) Run(ctx context.Context, jobs <-chan types.BlockRootHashJob, results chan<- BlockRootHashResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			res, err := c.Process(ctx, job)
			if err != nil {
				c.logger.Error("Root hash job failed", slog.Uint64("block", uint64(job.Block)), slog.Any("error", err))
				return err
			}
			c.metrics.ObserveRootHashJob(c.Backlog())
			c.logger.Debug("Computed block root hash",
				slog.Uint64("block", uint64(res.Block)),
				slog.String("root", res.Root.Hex()),
			)
			if results == nil {
				continue
			}
			select {
			case results <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Enqueue feeds recovered jobs into queue in order.
func Enqueue(ctx context.Context, jobs []types.BlockRootHashJob, queue chan<- types.BlockRootHashJob) error {
	for _, job := range jobs {
		select {
		case queue <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
