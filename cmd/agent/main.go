package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NIEHS/MOUSE-TRAP/internal/api"
	"github.com/NIEHS/MOUSE-TRAP/internal/config"
	"github.com/NIEHS/MOUSE-TRAP/internal/convert"
	"github.com/NIEHS/MOUSE-TRAP/internal/db"
	"github.com/NIEHS/MOUSE-TRAP/internal/format"
	"github.com/NIEHS/MOUSE-TRAP/internal/history"
	"github.com/NIEHS/MOUSE-TRAP/internal/logging"
	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting mouse-trap agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := history.NewRepository(database.Conn())
	runner := proc.NewRunner(logging.WithComponent(logger, "proc"))
	resolver := format.NewResolver(format.DefaultRules())

	orchestrator := convert.NewOrchestrator(runner, convert.Tools{
		FFmpeg:   cfg.FFmpeg(),
		Pandoc:   cfg.Pandoc(),
		Pdftoppm: cfg.Pdftoppm(),
		Magick:   cfg.Magick(),
	}, logging.WithComponent(logger, "convert"))

	hub := api.NewHub(logging.WithComponent(logger, "ws"))

	apiServer := api.NewServer(api.ServerConfig{
		Port: cfg.Port(),
		Router: api.RouterConfig{
			Resolver:     resolver,
			Orchestrator: orchestrator,
			ProcRunner:   runner,
			History:      repo,
			Hub:          hub,
			Worker:       api.NewWorker(),
			CondaEnv:     cfg.CondaEnv(),
			Logger:       logger,
			StartTime:    startTime,
		},
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	logger.Info("agent ready", "addr", apiServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
