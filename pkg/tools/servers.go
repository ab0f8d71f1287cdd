package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/jarvis-rag/internal/logger"
)

// Version is reported by the tool servers.
const Version = "1.0.0"

// NewHistoryServer serves get_conversation_history.
func NewHistoryServer(r WindowResolver) *server.MCPServer {
	m := NewToolManager()
	m.RegisterTool(NewHistoryTool(r))
	return m.Server("conversation-history", Version)
}

// NewDocumentServer serves retrieve_documents and filter_by_metadata.
func NewDocumentServer(r DocumentRetriever) *server.MCPServer {
	m := NewToolManager()
	m.RegisterTool(NewRetrieveTool(r))
	m.RegisterTool(NewFilterTool())
	return m.Server("document-retrieval", Version)
}

// ServeSSE serves an MCP server over SSE on host:port until SIGINT or
// SIGTERM.
func ServeSSE(name string, s *server.MCPServer, host, port string) error {
	addr := fmt.Sprintf("%s:%s", host, port)
	sse := server.NewSSEServer(s, server.WithBaseURL(fmt.Sprintf("http://%s", addr)))

	errc := make(chan error, 1)
	go func() {
		logger.L.Info("starting MCP server", "name", name, "transport", "sse", "address", addr, "endpoint", "/sse")
		errc <- sse.Start(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-stop:
	}

	logger.L.Info("shutting down MCP server", "name", name)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sse.Shutdown(ctx)
}
