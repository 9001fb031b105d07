// Command relayer-mcp exposes the relayer as MCP tools over stdio or SSE.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/x402-foundation/x402/relayer/config"
	"github.com/x402-foundation/x402/relayer/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := app.RunMCP(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("mcp server stopped", zap.Error(err))
	}
}
