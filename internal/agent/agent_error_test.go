package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-rag/internal/config"
)

func TestAgentRun_LLMError(t *testing.T) {
	a := New(&mockLLM{err: context.DeadlineExceeded}, config.Config{LLM: config.LLMConfig{Model: "gpt"}})
	transcript, err := a.Run(context.Background(), "", userMessage("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, transcript)
}

func TestAgentRun_NoChoices(t *testing.T) {
	a := New(&mockLLM{calls: []openai.ChatCompletionResponse{{}}}, config.Config{})
	_, err := a.Run(context.Background(), "", userMessage("hi"))
	require.ErrorContains(t, err, "no choices")
}

func TestAgentRun_MaxTurns(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse("c1", "get_weather", `{}`),
		toolCallResponse("c2", "get_weather", `{}`),
	}}
	a := New(llmClient, config.Config{Agent: config.AgentConfig{MaxTurns: 2}}, WithMCPClient("weather", weatherClient(nil)))

	transcript, err := a.Run(context.Background(), "", userMessage("loop"))
	require.ErrorIs(t, err, ErrMaxTurns)
	assert.Len(t, transcript, 4, "two assistant turns and two tool results")
	assert.Len(t, llmClient.requests, 2)
}

// TestAgentRun_ToolFailuresAreFedBack checks that tool problems become tool messages and the LLM still answers.
func TestAgentRun_ToolFailuresAreFedBack(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		args     string
		call     func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		want     string
	}{
		{
			name:     "call error",
			toolName: "get_weather",
			args:     `{"location": "Paris"}`,
			call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("MCP server connection failed")
			},
			want: "Error calling tool get_weather: MCP server connection failed",
		},
		{
			name:     "error result",
			toolName: "get_weather",
			args:     `{}`,
			call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "city unknown"}}}, nil
			},
			want: "city unknown",
		},
		{
			name:     "error result without text",
			toolName: "get_weather",
			args:     `{}`,
			call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return &mcp.CallToolResult{IsError: true}, nil
			},
			want: "Tool execution resulted in an error without specific text.",
		},
		{
			name:     "unparsable arguments",
			toolName: "get_weather",
			args:     `{"location":`,
			want:     "Error: Could not parse arguments for tool get_weather",
		},
		{
			name:     "unknown tool",
			toolName: "get_stock",
			args:     `{}`,
			want:     "Error: tool get_stock is not available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := tt.call
			if call == nil {
				call = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					t.Fatal("tool must not be called")
					return nil, nil
				}
			}
			llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
				toolCallResponse("call_1", tt.toolName, tt.args),
				contentResponse("Sorry, I could not do that."),
			}}
			a := New(llmClient, config.Config{}, WithMCPClient("weather", weatherClient(call)))

			transcript, err := a.Run(context.Background(), "", userMessage("go"))
			require.NoError(t, err)
			require.Len(t, transcript, 3)
			assert.Equal(t, tt.want, transcript[1].Content)
			assert.Equal(t, "Sorry, I could not do that.", transcript[2].Content)
		})
	}
}

func TestNew_SkipsBrokenServers(t *testing.T) {
	closed := false
	broken := &mockMCPClient{
		InitializeFunc: func(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
			return nil, errors.New("handshake failed")
		},
		CloseFunc: func() error { closed = true; return nil },
	}
	cfg := config.Config{MCPServers: []config.MCPServerConfig{
		{Name: "missing", Type: config.ClientTypeInProcess},
		{Name: "weird", Type: "carrier-pigeon"},
	}}

	a := New(&mockLLM{}, cfg, WithMCPClient("broken", broken))
	assert.Empty(t, a.mcpClients)
	assert.Empty(t, a.Tools())
	assert.True(t, closed, "clients failing initialization are closed")
}

func TestAgent_Close(t *testing.T) {
	boom := errors.New("boom")
	ok := &mockMCPClient{}
	bad := &mockMCPClient{CloseFunc: func() error { return boom }}

	a := New(&mockLLM{}, config.Config{}, WithMCPClient("ok", ok), WithMCPClient("bad", bad))
	require.ErrorIs(t, a.Close(), boom)
}
