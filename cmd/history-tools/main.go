package main

import (
	"context"
	"os"

	"github.com/comigor/jarvis-rag/internal/config"
	"github.com/comigor/jarvis-rag/internal/history"
	"github.com/comigor/jarvis-rag/internal/logger"
	"github.com/comigor/jarvis-rag/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	store, err := history.Open(context.Background(), cfg.History)
	if err != nil {
		logger.L.Error("failed to open message store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.L.Info("conversation history tools",
		"backend", cfg.History.Backend,
		"kind", store.Kind(),
		"max_length", cfg.History.MaxLength,
		"tools", []string{tools.HistoryToolName},
	)

	srv := tools.NewHistoryServer(history.NewResolver(store, cfg.History.MaxLength))
	if err := tools.ServeSSE("conversation-history", srv, cfg.ToolServer.Host, cfg.ToolServer.HistoryPort); err != nil {
		logger.L.Error("MCP server stopped", "error", err)
		store.Close()
		os.Exit(1)
	}
}
