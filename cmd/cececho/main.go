package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cececho/internal/app"
	"cececho/internal/config"
	"cececho/internal/logging"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("CEC ECHO exited with error")
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run() error {
	// STEP 1: Load configuration (defaults < config file < environment)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(cfg.Log)

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Cancel on SIGINT/SIGTERM; the supervisor drains every service
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
