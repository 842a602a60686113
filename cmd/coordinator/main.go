package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nemanja-m/shardmr/internal/coordinator/api/grpc"
	"github.com/nemanja-m/shardmr/internal/coordinator/api/rest"
	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/coordinator/service"
	"github.com/nemanja-m/shardmr/internal/coordinator/storage"
	"github.com/nemanja-m/shardmr/internal/shared/config"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/internal/shared/tracing"
	"github.com/nemanja-m/shardmr/internal/worker"
	"github.com/nemanja-m/shardmr/pkg/datastore"

	_ "github.com/nemanja-m/shardmr/examples/entitycount"
	_ "github.com/nemanja-m/shardmr/examples/entitycreate"
	_ "github.com/nemanja-m/shardmr/examples/grep"
	_ "github.com/nemanja-m/shardmr/examples/wordcount"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to coordinator config file")
	flag.Parse()

	cfg, err := config.LoadCoordinator(*configPath)
	if err != nil {
		logging.NewSlogLogger(slog.LevelInfo).Fatal("Failed to load config", "error", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logging.NewSlogLogger(slog.LevelInfo).Fatal("Invalid logging config", "error", err)
	}

	if cfg.Tracing.Endpoint != "" {
		shutdown, err := tracing.Init(context.Background(), cfg.Tracing.Endpoint)
		if err != nil {
			logger.Fatal("Failed to init tracing", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("Failed to flush spans", "error", err)
			}
		}()
		logger.Info("Tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	jobStore, err := newJobStore(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to open job store", "error", err)
	}
	defer jobStore.Close()

	store, err := datastore.NewBoltStore(cfg.Datastore.Path)
	if err != nil {
		logger.Fatal("Failed to open datastore", "path", cfg.Datastore.Path, "error", err)
	}
	defer store.Close()

	defaults := settingsFrom(cfg.Driver)
	if err := defaults.Validate(); err != nil {
		logger.Fatal("Invalid driver config", "error", err)
	}

	driver := service.NewDriver(worker.NewRunner(logger), logger)
	manager := service.NewJobManager(jobStore, store, driver, logger)

	restored, err := manager.Restore()
	if err != nil {
		logger.Fatal("Failed to restore jobs", "error", err)
	}
	if restored > 0 {
		logger.Warn("Jobs interrupted by previous shutdown", "count", restored)
	}

	restServer := rest.NewServer(cfg.REST, manager, defaults, logger)
	grpcServer := grpc.NewServer(cfg.GRPC, manager, defaults, logger)

	go func() {
		logger.Info("Starting REST API server", "addr", cfg.REST.Addr)
		if err := restServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("REST server error", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting gRPC server", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down coordinator...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := restServer.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", "error", err)
	}
	grpcServer.Stop()
	manager.Shutdown()

	logger.Info("Coordinator stopped")
}

func newJobStore(cfg config.StorageConfig) (core.JobStore, error) {
	if cfg.Type == config.StorageBolt {
		return storage.NewBoltJobStore(cfg.Path)
	}
	return storage.NewInMemoryJobStore(), nil
}

func settingsFrom(cfg config.DriverConfig) core.Settings {
	return core.Settings{
		Parallelism: cfg.Parallelism,
		MaxAttempts: cfg.MaxAttempts,
		StepRecords: cfg.StepRecords,
		StepTimeout: cfg.StepTimeout,
	}
}
