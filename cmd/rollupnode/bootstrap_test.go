package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"rollupnode/config"
	coreerrors "rollupnode/core/errors"
	"rollupnode/core/statekeeper"
	"rollupnode/core/types"
	"rollupnode/internal/chaintest"
	"rollupnode/storage/kvstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStorage fails LastCommittedBlock a fixed number of times.
type flakyStorage struct {
	statekeeper.Storage
	failures int
	err      error
	calls    int
}

func (f *flakyStorage) LastCommittedBlock(ctx context.Context) (types.BlockNumber, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return f.Storage.LastCommittedBlock(ctx)
}

func openLevelDB(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := openStorage(config.Storage{Backend: config.BackendLevelDB, Path: filepath.Join(t.TempDir(), "chain")}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	store, ok := s.(*kvstore.Store)
	require.True(t, ok)
	return store
}

func retryConfig(attempts int) config.Restore {
	return config.Restore{MaxAttempts: attempts, RetryInterval: config.Duration{Duration: time.Millisecond}}
}

func TestOpenStorageBackends(t *testing.T) {
	openLevelDB(t)

	s, err := openStorage(config.Storage{
		Backend: config.BackendSQL,
		DSN:     fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = openStorage(config.Storage{Backend: "bolt"}, discardLogger())
	require.Error(t, err)
}

func TestRestoreWithRetryRecoversFromTransientFailure(t *testing.T) {
	s := openLevelDB(t)
	b := chaintest.NewBuilder(t, s)
	b.Block(true, 2, b.CreateAccount(chaintest.Address(1)))

	flaky := &flakyStorage{Storage: s, failures: 2, err: coreerrors.Storage("read", errors.New("busy"))}
	params, err := restoreWithRetry(context.Background(), flaky, retryConfig(3), discardLogger())
	require.NoError(t, err)
	require.Equal(t, types.BlockNumber(1), params.LastBlockNumber)
	require.Equal(t, uint64(2), params.UnprocessedPriorityOp)
	require.Equal(t, 3, flaky.calls)
}

func TestRestoreWithRetryGivesUp(t *testing.T) {
	s := openLevelDB(t)
	flaky := &flakyStorage{Storage: s, failures: 10, err: coreerrors.Storage("read", errors.New("busy"))}

	_, err := restoreWithRetry(context.Background(), flaky, retryConfig(2), discardLogger())
	require.ErrorIs(t, err, coreerrors.ErrStorage)
	require.Equal(t, 2, flaky.calls)
}

func TestRestoreWithRetrySingleAttemptByDefault(t *testing.T) {
	s := openLevelDB(t)
	b := chaintest.NewBuilder(t, s)
	b.Pending(3)

	_, err := restoreWithRetry(context.Background(), s, config.Restore{}, discardLogger())
	require.ErrorIs(t, err, coreerrors.ErrDataConsistency)
}

func TestRestoreWithRetryStopsOnPermanentError(t *testing.T) {
	s := openLevelDB(t)
	flaky := &flakyStorage{Storage: s, failures: 10, err: context.Canceled}

	_, err := restoreWithRetry(context.Background(), flaky, retryConfig(5), discardLogger())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, flaky.calls)
}

func TestHealthz(t *testing.T) {
	s := openLevelDB(t)
	b := chaintest.NewBuilder(t, s)
	b.Block(true, 1, b.CreateAccount(chaintest.Address(1)))
	b.Pending(2)

	params, err := statekeeper.RestoreFromDB(context.Background(), s)
	require.NoError(t, err)
	keeper, _ := statekeeper.NewKeeper(params)

	srv := httptest.NewServer(newRouter(keeper, func() types.BlockNumber { return 1 }))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, types.BlockNumber(1), body.LastBlockNumber)
	require.Equal(t, b.Root(1).Hex(), body.Root)
	require.NotNil(t, body.PendingBlock)
	require.Equal(t, types.BlockNumber(2), *body.PendingBlock)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
