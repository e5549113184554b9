// stateflow storage server - remote persistence for workflow state
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stateflow/stateflow/internal/config"
	"github.com/stateflow/stateflow/internal/infrastructure/logger"
	"github.com/stateflow/stateflow/pkg/events"
	"github.com/stateflow/stateflow/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.SetDefault(appLogger)

	appLogger.Info("Starting stateflow storage server",
		"storage", cfg.Storage.Type,
		"port", cfg.Server.Port,
	)

	store, err := config.NewStorageAdapter(cfg.Storage)
	if err != nil {
		appLogger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus(events.WithLogger(appLogger))

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		APIKeys:         cfg.Server.APIKeys,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Debug:           cfg.Logging.Level == "debug",
	}, store,
		server.WithEventBus(bus),
		server.WithLogger(appLogger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		appLogger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
