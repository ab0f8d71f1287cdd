package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/jarvis-rag/internal/agent"
	"github.com/comigor/jarvis-rag/internal/api"
	"github.com/comigor/jarvis-rag/internal/config"
	"github.com/comigor/jarvis-rag/internal/history"
	"github.com/comigor/jarvis-rag/internal/llm"
	"github.com/comigor/jarvis-rag/internal/logger"
	"github.com/comigor/jarvis-rag/internal/retrieval"
	"github.com/comigor/jarvis-rag/pkg/tools"
)

// Names under which the tool servers can be hosted in-process. An
// mcp_servers entry of type inprocess with one of these names attaches to it.
const (
	historyServerName  = "conversation-history"
	documentServerName = "document-retrieval"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		logger.L.Error("failed to open message store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.L.Info("message store ready", "backend", cfg.History.Backend, "kind", store.Kind())

	opts := inProcessServers(ctx, cfg, store)
	a := agent.New(llm.NewClient(cfg.LLM), *cfg, opts...)
	defer func() {
		if err := a.Close(); err != nil {
			logger.L.Warn("closing MCP clients", "error", err)
		}
	}()
	logger.L.Info("agent ready", "tools", a.Tools())

	orch := agent.NewOrchestrator(a, store, cfg.LLM.SystemPrompt, cfg.History.MaxLength)
	srv := &http.Server{
		Addr: config.Addr(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(orch, api.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			stop <- syscall.SIGTERM
		}
	}()

	<-stop
	logger.L.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("graceful shutdown failed", "error", err)
	}
}

// inProcessServers builds the tool servers requested as inprocess entries.
func inProcessServers(ctx context.Context, cfg *config.Config, store *history.Store) []agent.Option {
	var opts []agent.Option
	for _, s := range cfg.MCPServers {
		if s.Type != config.ClientTypeInProcess {
			continue
		}
		switch s.Name {
		case historyServerName:
			resolver := history.NewResolver(store, cfg.History.MaxLength)
			opts = append(opts, agent.WithInProcessServer(s.Name, tools.NewHistoryServer(resolver)))
		case documentServerName:
			r, err := retrieval.NewBedrock(ctx, cfg.Retrieval)
			if err != nil {
				logger.L.Error("document retrieval unavailable", "error", err)
				continue
			}
			opts = append(opts, agent.WithInProcessServer(s.Name, tools.NewDocumentServer(r)))
		default:
			logger.L.Warn("unknown in-process server", "name", s.Name)
		}
	}
	return opts
}
