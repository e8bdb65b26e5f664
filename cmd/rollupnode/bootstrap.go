package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rollupnode/config"
	coreerrors "rollupnode/core/errors"
	"rollupnode/core/roothash"
	"rollupnode/core/statekeeper"
	"rollupnode/observability/logging"
	"rollupnode/storage"
	"rollupnode/storage/kvstore"
	"rollupnode/storage/sqlstore"
)

// nodeStorage is what a storage engine must offer the node: the warm start
// reads, root hash writes and shutdown.
type nodeStorage interface {
	statekeeper.Storage
	roothash.RootHashStore
	Close() error
}

func openStorage(cfg config.Storage, logger *slog.Logger) (nodeStorage, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb at %s: %w", cfg.Path, err)
		}
		logger.Info("Opened storage", slog.String("backend", cfg.Backend), slog.String("path", cfg.Path))
		return kvstore.New(db), nil
	case config.BackendSQL:
		store, err := sqlstore.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened storage", slog.String("backend", cfg.Backend), logging.DSNField("dsn", cfg.DSN))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// retryable reports whether a failed restore may succeed on a later attempt.
// Storage failures and missing data can both stem from a replica that is
// still catching up; anything else is permanent.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, coreerrors.ErrStorage) || errors.Is(err, coreerrors.ErrDataConsistency)
}

// restoreWithRetry runs the warm start up to cfg.MaxAttempts times.
func restoreWithRetry(ctx context.Context, s statekeeper.Storage, cfg config.Restore, logger *slog.Logger, opts ...statekeeper.Option) (*statekeeper.InitParams, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryInterval.Duration), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	op := func() (*statekeeper.InitParams, error) {
		attempt++
		params, err := statekeeper.RestoreFromDB(ctx, s, opts...)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return params, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Restore attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("retry_in", wait),
			slog.Any("error", err),
		)
	}
	return backoff.RetryNotifyWithData(op, policy, notify)
}
