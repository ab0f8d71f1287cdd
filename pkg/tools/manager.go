package tools

import (
	"sort"

	"github.com/mark3labs/mcp-go/server"
)

// ToolManager manages the available tools
type ToolManager struct {
	tools map[string]Tool
}

// NewToolManager creates a new ToolManager
func NewToolManager() *ToolManager {
	return &ToolManager{
		tools: make(map[string]Tool),
	}
}

// RegisterTool registers a tool under its definition name, replacing any
// previous tool with that name.
func (m *ToolManager) RegisterTool(tool Tool) {
	m.tools[tool.Definition().Name] = tool
}

// List returns all registered tools ordered by name
func (m *ToolManager) List() []Tool {
	names := make([]string, 0, len(m.tools))
	for n := range m.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	ts := make([]Tool, 0, len(names))
	for _, n := range names {
		ts = append(ts, m.tools[n])
	}
	return ts
}

// Server builds an MCP server exposing every registered tool. Handler
// panics are recovered into tool errors.
func (m *ToolManager) Server(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range m.List() {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}
