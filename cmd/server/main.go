package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/config"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/server"
)

func main() {
	// Parse flags
	configPath := flag.String("config", os.Getenv("REGISTRY_CONFIG"), "Optional TOML config file")
	dataDir := flag.String("data", "", "Data directory (overrides DATA_DIR)")
	port := flag.String("port", "", "Server port (overrides PORT)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Cancelled on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if err := srv.Prepare(ctx); err != nil {
		srv.Close()
		logger.Fatal("Startup failed", zap.Error(err))
	}

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("Server error", zap.Error(runErr))
	}
}
