package main

import (
	"context"
	"os"

	"github.com/comigor/jarvis-rag/internal/config"
	"github.com/comigor/jarvis-rag/internal/logger"
	"github.com/comigor/jarvis-rag/internal/retrieval"
	"github.com/comigor/jarvis-rag/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	r, err := retrieval.NewBedrock(context.Background(), cfg.Retrieval)
	if err != nil {
		logger.L.Error("failed to set up knowledge base retrieval", "error", err)
		os.Exit(1)
	}

	logger.L.Info("document retrieval tools",
		"region", cfg.Retrieval.Region,
		"knowledge_base_id", cfg.Retrieval.KnowledgeBaseID,
		"use_reranking", cfg.Retrieval.UseReranking,
		"initial_results", cfg.Retrieval.InitialResults,
		"top_n", cfg.Retrieval.TopN,
		"tools", []string{tools.RetrieveToolName, tools.FilterToolName},
	)

	if err := tools.ServeSSE("document-retrieval", tools.NewDocumentServer(r), cfg.ToolServer.Host, cfg.ToolServer.DocumentsPort); err != nil {
		logger.L.Error("MCP server stopped", "error", err)
		os.Exit(1)
	}
}
