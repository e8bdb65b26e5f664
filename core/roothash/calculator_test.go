package roothash

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	coreerrors "rollupnode/core/errors"
	"rollupnode/core/staterestore"
	"rollupnode/core/types"
	"rollupnode/internal/chaintest"
	"rollupnode/observability/metrics"
	"rollupnode/storage"
	"rollupnode/storage/kvstore"
	"rollupnode/storage/trie"
)

type failingStore struct{ err error }

func (f failingStore) StoreRootHash(context.Context, types.BlockNumber, common.Hash) error {
	return f.err
}

// seededChain commits block 1 and leaves blocks 2 and 3 unhashed.
func seededChain(t *testing.T) (*kvstore.Store, *chaintest.Builder, []types.BlockRootHashJob) {
	t.Helper()
	s := kvstore.New(storage.NewMemDB())
	b := chaintest.NewBuilder(t, s)
	acc := b.CreateAccount(chaintest.Address(1))
	b.Block(true, 0, acc)
	b.Block(false, 0, b.Deposit(acc.AccountID, 0, 10))
	b.Block(false, 0, b.CreateAccount(chaintest.Address(2)), b.Deposit(acc.AccountID, 1, 3))
	jobs := []types.BlockRootHashJob{
		{Block: 2, Updates: b.Diff(2)},
		{Block: 3, Updates: b.Diff(3)},
	}
	return s, b, jobs
}

func treeAt(t *testing.T, diffs ...types.AccountUpdates) *trie.AccountTree {
	t.Helper()
	tree := trie.NewAccountTree(trie.AccountTreeDepth)
	for _, diff := range diffs {
		for _, entry := range diff {
			require.NoError(t, staterestore.ApplyUpdate(tree, nil, entry))
		}
	}
	return tree
}

func TestProcessComputesAndStoresRoots(t *testing.T) {
	ctx := context.Background()
	s, b, jobs := seededChain(t)
	calc := NewCalculator(treeAt(t, b.Diff(1)), 1, s)

	for _, job := range jobs {
		res, err := calc.Process(ctx, job)
		require.NoError(t, err)
		require.Equal(t, job.Block, res.Block)
		require.Equal(t, b.Root(job.Block), res.Root)
	}
	require.Equal(t, types.BlockNumber(3), calc.LastBlock())

	last, err := s.LastCommittedBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(3), last)
}

func TestProcessRejectsOutOfOrderJobs(t *testing.T) {
	_, b, jobs := seededChain(t)
	calc := NewCalculator(treeAt(t, b.Diff(1)), 1, nil)

	_, err := calc.Process(context.Background(), jobs[1])
	require.ErrorIs(t, err, coreerrors.ErrDataConsistency)
	require.Equal(t, types.BlockNumber(1), calc.LastBlock())
}

func TestProcessWrapsStoreFailures(t *testing.T) {
	_, b, jobs := seededChain(t)
	boom := errors.New("write failed")
	calc := NewCalculator(treeAt(t, b.Diff(1)), 1, failingStore{err: boom})

	_, err := calc.Process(context.Background(), jobs[0])
	require.ErrorIs(t, err, coreerrors.ErrStorage)
	require.ErrorIs(t, err, boom)
	require.Equal(t, types.BlockNumber(1), calc.LastBlock())
}

func TestRunDrainsQueue(t *testing.T) {
	ctx := context.Background()
	s, b, jobs := seededChain(t)
	calc := NewCalculator(treeAt(t, b.Diff(1)), 1, s)

	queue := make(chan types.BlockRootHashJob, len(jobs))
	results := make(chan BlockRootHashResult, len(jobs))
	require.NoError(t, Enqueue(ctx, jobs, queue))
	close(queue)

	require.NoError(t, calc.Run(ctx, queue, results))
	close(results)

	var got []BlockRootHashResult
	for res := range results {
		got = append(got, res)
	}
	require.Equal(t, []BlockRootHashResult{
		{Block: 2, Root: b.Root(2)},
		{Block: 3, Root: b.Root(3)},
	}, got)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calc := NewCalculator(trie.NewAccountTree(trie.AccountTreeDepth), 0, nil)
	err := calc.Run(ctx, make(chan types.BlockRootHashJob), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnqueueHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Enqueue(ctx, []types.BlockRootHashJob{{Block: 1}}, make(chan types.BlockRootHashJob))
	require.ErrorIs(t, err, context.Canceled)
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestBacklogCountsSealedBlocksBeyondQueue(t *testing.T) {
	ctx := context.Background()
	jobs := make([]types.BlockRootHashJob, 0, 10)
	for n := types.BlockNumber(2); n <= 11; n++ {
		jobs = append(jobs, types.BlockRootHashJob{Block: n})
	}
	calc := NewCalculator(trie.NewAccountTree(trie.AccountTreeDepth), 1, nil,
		WithMetrics(metrics.Restore()),
		WithSealedHeight(11),
	)
	require.Equal(t, 10, calc.Backlog())

	queue := make(chan types.BlockRootHashJob, 2)
	results := make(chan BlockRootHashResult)
	done := make(chan error, 1)
	go func() { done <- calc.Run(ctx, queue, results) }()

	queue <- jobs[0]
	res := <-results
	require.Equal(t, types.BlockNumber(2), res.Block)
	require.Equal(t, 9, calc.Backlog())
	require.Equal(t, float64(9), gaugeValue(t, "rollup_root_hash_lag_blocks"))

	go func() {
		_ = Enqueue(ctx, jobs[1:], queue)
		close(queue)
	}()
	for range jobs[1:] {
		<-results
	}
	require.NoError(t, <-done)
	require.Zero(t, calc.Backlog())
	require.Zero(t, gaugeValue(t, "rollup_root_hash_lag_blocks"))
}

func TestBacklogDefaultsToStartingBlock(t *testing.T) {
	calc := NewCalculator(trie.NewAccountTree(trie.AccountTreeDepth), 4, nil)
	require.Zero(t, calc.Backlog())
}
