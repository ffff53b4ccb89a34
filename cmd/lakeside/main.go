package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lakeside-io/lakeside/internal/compactor"
	"github.com/lakeside-io/lakeside/internal/config"
	"github.com/lakeside-io/lakeside/internal/coordinator"
	"github.com/lakeside-io/lakeside/internal/gateway"
	"github.com/lakeside-io/lakeside/internal/logging"
	"github.com/lakeside-io/lakeside/internal/metrics"
	"github.com/lakeside-io/lakeside/internal/objstore"
	"github.com/lakeside-io/lakeside/internal/schema"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(cfg.Logging)

	log := logging.Component("main")
	log.Info("lakeside starting", "version", Version, "git_sha", GitSHA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	store, err := objstore.New(cfg.Store)
	if err != nil {
		log.Error("failed to create object store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	stateStore, err := coordinator.NewFileStateStore(cfg.Compaction.LockStateDir)
	if err != nil {
		log.Error("failed to create lock state store", "error", err)
		os.Exit(1)
	}
	coord := coordinator.New(stateStore, cfg.Compaction.StaleLockAfter)
	defer coord.Close()

	schemas := schema.NewManager(store, cfg.Schema.CacheTTL)

	comp := compactor.New(store, schemas, coord, compactor.Config{
		PartitionWorkers: cfg.Compaction.PartitionWorkers,
		Compression:      cfg.Compaction.Compression,
		Retry:            cfg.Retry,
	})
	gw := gateway.New(store, schemas, gateway.Config{
		PartitionField: cfg.Gateway.PartitionField,
	}, cfg.Retry)

	if cfg.Metrics.Enabled {
		metrics.Init("lakeside")
		go func() {
			log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	compactionSrv := &http.Server{
		Addr:    cfg.Server.CompactionAddr,
		Handler: comp.Handler(),
	}
	gatewaySrv := &http.Server{
		Addr:    cfg.Server.GatewayAddr,
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("compaction service listening", "addr", compactionSrv.Addr)
		errCh <- compactionSrv.ListenAndServe()
	}()
	go func() {
		log.Info("gateway listening", "addr", gatewaySrv.Addr)
		errCh <- gatewaySrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			cancel()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := compactionSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("compaction service shutdown", "error", err)
	}
	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown", "error", err)
	}

	slog.Info("lakeside stopped cleanly")
}
