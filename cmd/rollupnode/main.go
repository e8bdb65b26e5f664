package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rollupnode/config"
	"rollupnode/core/roothash"
	"rollupnode/core/statekeeper"
	"rollupnode/core/types"
	"rollupnode/observability/logging"
	"rollupnode/observability/metrics"
	telemetry "rollupnode/observability/otel"
)

const serviceName = "rollupnode"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("ROLLUP_ENV"))
	instance := uuid.NewString()
	logger, logCloser, err := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        env,
		Network:    cfg.NetworkName,
		Instance:   instance,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, instance, logger); err != nil {
		logger.Error("Node stopped with error", slog.Any("error", err))
		stop()
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("Node stopped")
}

func run(ctx context.Context, cfg *config.Config, env, instance string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		InstanceID:  instance,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		logger.Info("Exporting telemetry",
			slog.String("endpoint", cfg.Telemetry.Endpoint),
			slog.String("headers", logging.MaskValue(cfg.Telemetry.Headers)),
			slog.Bool("traces", cfg.Telemetry.Traces),
			slog.Bool("metrics", cfg.Telemetry.Metrics),
		)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Closing storage failed", slog.Any("error", err))
		}
	}()

	m := metrics.Restore()
	params, err := restoreWithRetry(ctx, store, cfg.Restore, logger,
		statekeeper.WithLogger(logger),
		statekeeper.WithParallelLoads(cfg.Restore.ParallelLoads),
		statekeeper.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	// The calculator works on its own copy so the keeper can keep mutating the
	// tree at the restored height.
	tree, last := params.Tree.Copy(), params.LastBlockNumber
	keeper, jobs := statekeeper.NewKeeper(params)
	sealed := last
	if len(jobs) > 0 {
		sealed = jobs[len(jobs)-1].Block
		logger.Info("Resuming root hash computation",
			slog.Uint64("from_block", uint64(jobs[0].Block)),
			slog.Uint64("to_block", uint64(sealed)),
		)
	}
	calc := roothash.NewCalculator(tree, last, store,
		roothash.WithLogger(logger),
		roothash.WithMetrics(m),
		roothash.WithSealedHeight(sealed),
	)

	queue := make(chan types.BlockRootHashJob, cfg.Restore.JobQueueSize)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return roothash.Enqueue(gctx, jobs, queue)
	})
	group.Go(func() error {
		err := calc.Run(gctx, queue, nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		group.Go(func() error {
			return serve(gctx, addr, newRouter(keeper, calc.LastBlock), logger)
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
