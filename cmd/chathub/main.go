package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chathub/internal/app"
	"chathub/internal/config"
	"chathub/internal/logging"
)

// Main entry point with signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string) error {
	flags := flag.NewFlagSet("chathub", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file (defaults to $"+config.EnvConfigFile+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(*cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// STEP 2: Signal context cancels startup and triggers shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal, shutting down gracefully")

	// Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 30 * time.Second
}
