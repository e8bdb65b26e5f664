package statekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"rollupnode/core/staterestore"
	"rollupnode/core/types"
	"rollupnode/observability/metrics"
	"rollupnode/storage/trie"
)

const tracerName = "rollupnode/statekeeper"

// InitParams is everything the state keeper needs to resume after a restart.
// Every field is valid as of LastBlockNumber.
type InitParams struct {
	Tree                  *trie.AccountTree
	AccIDByAddr           map[common.Address]types.AccountID
	NFTs                  map[types.TokenID]types.NFT
	LastBlockNumber       types.BlockNumber
	UnprocessedPriorityOp uint64

	PendingBlock *types.PendingBlock
	RootHashJobs []types.BlockRootHashJob
}

// NewInitParams returns the params of a node that has never committed a block.
func NewInitParams() *InitParams {
	return &InitParams{
		Tree:         trie.NewAccountTree(trie.AccountTreeDepth),
		AccIDByAddr:  make(map[common.Address]types.AccountID),
		NFTs:         make(map[types.TokenID]types.NFT),
		RootHashJobs: []types.BlockRootHashJob{},
	}
}

// InsertAccount adds acc at id to both the tree and the address index. It
// refuses to bind an address to a second id or to overwrite a leaf owned by a
// different address. Callers must serialize calls.
func (p *InitParams) InsertAccount(id types.AccountID, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("insert account %d: nil account", id)
	}
	if owner, ok := p.AccIDByAddr[acc.Address]; ok && owner != id {
		return fmt.Errorf("insert account %d: address %s already bound to account %d", id, acc.Address.Hex(), owner)
	}
	if existing, ok := p.Tree.Get(id); ok && existing.Address != acc.Address {
		return fmt.Errorf("insert account %d: leaf owned by %s", id, existing.Address.Hex())
	}
	if err := p.Tree.Insert(id, acc); err != nil {
		return fmt.Errorf("insert account %d: %w", id, err)
	}
	p.AccIDByAddr[acc.Address] = id
	return nil
}

type restoreConfig struct {
	logger        *slog.Logger
	parallelLoads bool
	treeDepth     int
	metrics       *metrics.RestoreMetrics
}

// Option customises RestoreFromDB.
type Option func(*restoreConfig)

// WithLogger sets the logger used for the restore summary.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *restoreConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithParallelLoads runs the reads that follow the tree restore concurrently.
// Storage must then serve concurrent reads from a snapshot no older than the
// restored height.
func WithParallelLoads(enabled bool) Option {
	return func(cfg *restoreConfig) { cfg.parallelLoads = enabled }
}

// WithTreeDepth overrides the account tree depth.
func WithTreeDepth(depth int) Option {
	return func(cfg *restoreConfig) { cfg.treeDepth = depth }
}

// WithMetrics records restore outcomes into m.
func WithMetrics(m *metrics.RestoreMetrics) Option {
	return func(cfg *restoreConfig) { cfg.metrics = m }
}

// RestoreFromDB rebuilds InitParams from storage. The account tree is restored
// first; its height anchors the priority op counter, the NFT registry, the
// pending block check and the root hash job queue.
func RestoreFromDB(ctx context.Context, s Storage, opts ...Option) (*InitParams, error) {
	cfg := restoreConfig{
		logger:    slog.Default(),
		treeDepth: trie.AccountTreeDepth,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	started := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statekeeper.RestoreFromDB")
	defer span.End()

	params, err := restore(ctx, s, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("last_block_number", int64(params.LastBlockNumber)),
		attribute.Int("root_hash_jobs", len(params.RootHashJobs)),
	)
	elapsed := time.Since(started)
	cfg.metrics.ObserveRestore(elapsed, uint64(params.LastBlockNumber), len(params.RootHashJobs))
	recordRestoreDuration(ctx, elapsed)

	cfg.logger.Info("Loaded committed state",
		slog.Uint64("last_block_number", uint64(params.LastBlockNumber)),
		slog.Uint64("unprocessed_priority_op", params.UnprocessedPriorityOp),
	)
	return params, nil
}

func restore(ctx context.Context, s Storage, cfg restoreConfig) (*InitParams, error) {
	restored, err := stage(ctx, "restore_account_tree", func(ctx context.Context) (*staterestore.RestoredTree, error) {
		return staterestore.NewRestorer(s,
			staterestore.WithLogger(cfg.logger),
			staterestore.WithDepth(cfg.treeDepth),
		).Restore(ctx)
	})
	if err != nil {
		return nil, err
	}

	params := &InitParams{
		Tree:            restored.Tree,
		AccIDByAddr:     restored.AccIDByAddr,
		LastBlockNumber: restored.LastBlock,
	}
	last := restored.LastBlock

	var outcome PendingOutcome
	loaders := []func(context.Context) error{
		func(ctx context.Context) (err error) {
			params.UnprocessedPriorityOp, err = stage(ctx, "load_priority_op_counter", func(ctx context.Context) (uint64, error) {
				return UnprocessedPriorityOp(ctx, s, last)
			})
			return err
		},
		func(ctx context.Context) (err error) {
			params.NFTs, err = stage(ctx, "load_nfts", func(ctx context.Context) (map[types.TokenID]types.NFT, error) {
				return LoadNFTs(ctx, s, last)
			})
			return err
		},
		func(ctx context.Context) (err error) {
			params.PendingBlock, err = stage(ctx, "load_pending_block", func(ctx context.Context) (*types.PendingBlock, error) {
				pending, result, err := LoadPendingBlock(ctx, s, last)
				outcome = result
				return pending, err
			})
			return err
		},
		func(ctx context.Context) (err error) {
			params.RootHashJobs, err = stage(ctx, "load_root_hash_jobs", func(ctx context.Context) ([]types.BlockRootHashJob, error) {
				return LoadRootHashJobs(ctx, s, last)
			})
			return err
		},
	}

	if cfg.parallelLoads {
		group, gctx := errgroup.WithContext(ctx)
		for _, load := range loaders {
			group.Go(func() error { return load(gctx) })
		}
		err = group.Wait()
	} else {
		for _, load := range loaders {
			if err = load(ctx); err != nil {
				break
			}
		}
	}
	if outcome != PendingAbsent {
		cfg.metrics.ObservePendingOutcome(outcome.String())
	}
	if outcome == PendingDiscarded {
		cfg.logger.Debug("Discarded stale pending block", slog.Uint64("last_block_number", uint64(last)))
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

// stage runs fn inside a child span named after the restore step.
func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// recordRestoreDuration exports the restore wall time through the OTel meter
// provider installed by observability/otel.
func recordRestoreDuration(ctx context.Context, elapsed time.Duration) {
	hist, err := otel.Meter(tracerName).Float64Histogram("rollup.restore.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of the state keeper warm start."),
	)
	if err != nil {
		return
	}
	hist.Record(ctx, elapsed.Seconds())
}
