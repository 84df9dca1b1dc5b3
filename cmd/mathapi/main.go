package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/config"
	"github.com/aescanero/canvas/internal/logging"
	"github.com/aescanero/canvas/pkg/mathapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.GetMathAPIAddr()
	logger.Info("starting math API",
		zap.String("addr", addr),
		zap.Duration("latency", cfg.MathAPI.Latency),
		zap.Strings("operations", mathapi.Operations()))

	if err := mathapi.NewServer(addr, cfg.MathAPI.Latency, logger).Run(ctx); err != nil {
		logger.Fatal("math API failed", zap.Error(err))
	}
}
