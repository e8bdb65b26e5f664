package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rollupnode/core/statekeeper"
	"rollupnode/core/types"
)

type healthResponse struct {
	Status                string             `json:"status"`
	LastBlockNumber       types.BlockNumber  `json:"lastBlockNumber"`
	RootHashBlock         types.BlockNumber  `json:"rootHashBlock"`
	UnprocessedPriorityOp uint64             `json:"unprocessedPriorityOp"`
	Root                  string             `json:"root"`
	PendingBlock          *types.BlockNumber `json:"pendingBlock,omitempty"`
}

// rootHashProgress reports the last block whose root hash was computed.
type rootHashProgress func() types.BlockNumber

func newRouter(keeper *statekeeper.Keeper, progress rootHashProgress) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp := healthResponse{
			Status:                "ok",
			LastBlockNumber:       keeper.LastBlockNumber(),
			UnprocessedPriorityOp: keeper.UnprocessedPriorityOp(),
			Root:                  keeper.Root().Hex(),
		}
		if progress != nil {
			resp.RootHashBlock = progress()
		}
		if pending := keeper.PendingBlock(); pending != nil {
			n := pending.Number
			resp.PendingBlock = &n
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "rollupnode")
}

// serve runs the metrics and health endpoint until ctx is cancelled.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
