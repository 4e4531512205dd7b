// ====================================
// File: cmd/sniper/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/bot"
	"github.com/sniperlabs/solsniper/internal/config"
	"github.com/sniperlabs/solsniper/internal/utils/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting solsniper",
		zap.String("program", cfg.ProgramID),
		zap.String("commitment", cfg.Commitment))

	runner, err := bot.NewRunner(cfg, log)
	if err != nil {
		log.Fatal("initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
