package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"edgecam/internal/app"
	"edgecam/internal/config"
	"edgecam/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to start server: %v", err)
		return err
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Error("Server error: %v", err)
		return err
	}
	return nil
}
