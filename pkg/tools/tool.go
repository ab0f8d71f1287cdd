// Package tools holds the MCP tools exposed to the language model and the
// manager that serves them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool is an MCP tool with one well-defined request type.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// jsonResult encodes a response as the tool's text content. A populated
// error message marks the result as an error without failing the call.
func jsonResult(resp any, errMsg string) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode tool response: %w", err)
	}
	res := mcp.NewToolResultText(string(b))
	res.IsError = errMsg != ""
	return res, nil
}
