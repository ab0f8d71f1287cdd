package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/jarvis-rag/internal/config"
	"github.com/comigor/jarvis-rag/internal/llm"
	"github.com/comigor/jarvis-rag/internal/logger"
)

// FSM states
const (
	StateIdle           = "Idle"
	StateReadyToCallLLM = "ReadyToCallLLM"
	StateExecutingTools = "ExecutingTools"
	StateDone           = "Done"  // terminal: the model answered
	StateError          = "Error" // terminal
)

// FSM triggers
const (
	TriggerProcessInput            = "ProcessInput"
	TriggerLLMRespondedWithContent = "LLMRespondedWithContent"
	TriggerLLMRequestedTools       = "LLMRequestedTools"
	TriggerToolsExecutionCompleted = "ToolsExecutionCompleted"
	TriggerErrorOccurred           = "ErrorOccurred"
)

const defaultMaxTurns = 5

// ErrMaxTurns is returned when the model keeps requesting tools past the
// configured number of turns.
var ErrMaxTurns = errors.New("exceeded maximum interaction turns")

var emptySchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// MCPClientInterface defines the methods our agent expects from an MCP client.
type MCPClientInterface interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Agent runs the model/tool loop against the tools of its MCP servers.
type Agent struct {
	llmClient         llm.Client
	cfg               config.LLMConfig
	maxTurns          int
	mcpClients        []MCPClientInterface
	availableLLMTools []openai.Tool
	toolNameSet       map[string]MCPClientInterface

	inProcess map[string]*server.MCPServer
	attached  []namedClient
}

type namedClient struct {
	name   string
	client MCPClientInterface
}

// Option configures an Agent.
type Option func(*Agent)

// WithInProcessServer makes an MCP server hosted by this process available
// to mcp_servers entries of type inprocess with the same name.
func WithInProcessServer(name string, s *server.MCPServer) Option {
	return func(a *Agent) { a.inProcess[name] = s }
}

// WithMCPClient attaches an already constructed client.
func WithMCPClient(name string, c MCPClientInterface) Option {
	return func(a *Agent) { a.attached = append(a.attached, namedClient{name: name, client: c}) }
}

// New creates an agent and connects to every configured MCP server. Servers
// that cannot be reached are logged and skipped.
func New(llmClient llm.Client, appCfg config.Config, opts ...Option) *Agent {
	a := &Agent{
		llmClient:   llmClient,
		cfg:         appCfg.LLM,
		maxTurns:    appCfg.Agent.MaxTurns,
		toolNameSet: make(map[string]MCPClientInterface),
		inProcess:   make(map[string]*server.MCPServer),
	}
	if a.maxTurns <= 0 {
		a.maxTurns = defaultMaxTurns
	}
	for _, opt := range opts {
		opt(a)
	}

	ctx := context.Background()
	for _, serverCfg := range appCfg.MCPServers {
		c, err := a.connect(ctx, serverCfg)
		if err != nil {
			logger.L.Error("Failed to connect MCP server", "name", serverCfg.Name, "type", serverCfg.Type, "error", err)
			continue
		}
		a.register(ctx, serverCfg.Name, c)
	}
	for _, nc := range a.attached {
		a.register(ctx, nc.name, nc.client)
	}

	if len(a.mcpClients) == 0 && len(appCfg.MCPServers)+len(a.attached) > 0 {
		logger.L.Warn("No MCP clients were successfully initialized despite servers configured.", "length", len(appCfg.MCPServers)+len(a.attached))
	}
	return a
}

// connect creates and starts the transport for one configured server.
func (a *Agent) connect(ctx context.Context, serverCfg config.MCPServerConfig) (MCPClientInterface, error) {
	var (
		mcpC *client.Client
		err  error
	)
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		// stdio clients start their subprocess on creation
		stdioC, err := client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
		if err != nil {
			return nil, err
		}
		return stdioC, nil
	case config.ClientTypeInProcess:
		srv, ok := a.inProcess[serverCfg.Name]
		if !ok {
			return nil, fmt.Errorf("no in-process server named %q", serverCfg.Name)
		}
		mcpC, err = client.NewInProcessClient(srv)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q", serverCfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := mcpC.Start(ctx); err != nil {
		if cerr := mcpC.Close(); cerr != nil {
			logger.L.Warn("MCP client close error after start failure", "error", cerr)
		}
		return nil, fmt.Errorf("start transport: %w", err)
	}
	return mcpC, nil
}

// register initializes a client and adds its tools to the catalog. The
// first server to offer a tool name keeps it.
func (a *Agent) register(ctx context.Context, name string, c MCPClientInterface) {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "jarvis-rag", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		logger.L.Error("Failed to initialize MCP client", "name", name, "error", err)
		if cerr := c.Close(); cerr != nil {
			logger.L.Warn("MCP client close error after init failure", "error", cerr)
		}
		return
	}
	logger.L.Info("Server initialized", "name", name)
	a.mcpClients = append(a.mcpClients, c)

	serverTools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		logger.L.Warn("Failed to list tools for MCP client", "name", name, "error", err)
		return
	}
	for _, mcpTool := range serverTools.Tools {
		if _, exists := a.toolNameSet[mcpTool.Name]; exists {
			logger.L.Warn("Tool from MCP server already registered from another server. Skipping.", "tool", mcpTool.Name, "name", name)
			continue
		}
		a.toolNameSet[mcpTool.Name] = c
		a.availableLLMTools = append(a.availableLLMTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  toolSchema(mcpTool),
			},
		})
		logger.L.Info("Registered tool from MCP server for LLM", "tool", mcpTool.Name, "name", name)
	}
}

// toolSchema picks the JSON schema offered to the model for a tool.
func toolSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 && string(t.RawInputSchema) != "null" {
		return t.RawInputSchema
	}
	if t.InputSchema.Type == "" {
		logger.L.Warn("Tool from MCP server has an empty schema. Using default empty object schema.", "tool", t.Name)
		return emptySchema
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		logger.L.Error("Failed to marshal InputSchema for tool. Using empty schema.", "tool", t.Name, "error", err)
		return emptySchema
	}
	return b
}

// Tools lists the names of the tools offered to the model.
func (a *Agent) Tools() []string {
	names := make([]string, 0, len(a.availableLLMTools))
	for _, t := range a.availableLLMTools {
		names = append(names, t.Function.Name)
	}
	return names
}

// Close closes every MCP client.
func (a *Agent) Close() error {
	var errs []error
	for _, c := range a.mcpClients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run drives the conversation through the model and its tools until the
// model answers without requesting tools. It returns the messages produced
// during the run: assistant messages, tool results and the final answer.
func (a *Agent) Run(ctx context.Context, systemPrompt string, messages []openai.ChatCompletionMessage) ([]openai.ChatCompletionMessage, error) {
	type fsmContext struct {
		messages    []openai.ChatCompletionMessage
		transcript  []openai.ChatCompletionMessage
		llmResponse *openai.ChatCompletionResponse
		lastError   error
		currentTurn int
	}

	fc := &fsmContext{}
	if systemPrompt != "" {
		fc.messages = append(fc.messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	fc.messages = append(fc.messages, messages...)

	fsm := stateless.NewStateMachineWithMode(StateIdle, stateless.FiringQueued)

	fsm.Configure(StateIdle).
		Permit(TriggerProcessInput, StateReadyToCallLLM)

	fsm.Configure(StateReadyToCallLLM).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if fc.currentTurn >= a.maxTurns {
				logger.L.Warn("Max interaction turns reached.", "maxTurns", a.maxTurns)
				fc.lastError = ErrMaxTurns
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fc.currentTurn++
			logger.L.Debug("FSM: Entering StateReadyToCallLLM", "turn", fc.currentTurn)

			resp, err := a.llmClient.CreateChatCompletion(ctx, llm.NewRequest(a.cfg, fc.messages, a.availableLLMTools))
			if err != nil {
				logger.L.Error("LLM call failed", "error", err)
				fc.lastError = fmt.Errorf("llm call: %w", err)
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			if len(resp.Choices) == 0 {
				fc.lastError = errors.New("llm returned no choices")
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fc.llmResponse = &resp

			msg := resp.Choices[0].Message
			if msg.Role == "" {
				msg.Role = openai.ChatMessageRoleAssistant
			}
			fc.messages = append(fc.messages, msg)
			fc.transcript = append(fc.transcript, msg)

			if len(msg.ToolCalls) > 0 {
				return fsm.FireCtx(ctx, TriggerLLMRequestedTools)
			}
			return fsm.FireCtx(ctx, TriggerLLMRespondedWithContent)
		}).
		Permit(TriggerLLMRequestedTools, StateExecutingTools).
		Permit(TriggerLLMRespondedWithContent, StateDone).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateExecutingTools).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.L.Debug("FSM: Entering StateExecutingTools")
			for _, tc := range fc.llmResponse.Choices[0].Message.ToolCalls {
				result := openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    a.executeToolCall(ctx, tc),
					ToolCallID: tc.ID,
					Name:       tc.Function.Name,
				}
				fc.messages = append(fc.messages, result)
				fc.transcript = append(fc.transcript, result)
			}
			return fsm.FireCtx(ctx, TriggerToolsExecutionCompleted)
		}).
		Permit(TriggerToolsExecutionCompleted, StateReadyToCallLLM).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateDone).
		OnEntry(func(context.Context, ...any) error {
			logger.L.Debug("FSM: Entering StateDone", "turns", fc.currentTurn)
			return nil
		})

	fsm.Configure(StateError).
		OnEntry(func(context.Context, ...any) error {
			logger.L.Debug("FSM: Entering StateError")
			if fc.lastError == nil {
				fc.lastError = errors.New("FSM: reached error state without a specific error")
			}
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerProcessInput); err != nil {
		return fc.transcript, fmt.Errorf("FSM error: %w", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return fc.transcript, fmt.Errorf("FSM internal error: %w", err)
	}
	switch state {
	case StateDone:
		return fc.transcript, nil
	case StateError:
		return fc.transcript, fc.lastError
	default:
		if fc.lastError != nil {
			return fc.transcript, fc.lastError
		}
		return fc.transcript, fmt.Errorf("FSM ended in an unexpected state: %v", state)
	}
}

// executeToolCall runs one model tool call and renders its outcome as the
// text fed back to the model. Failures are reported in the text.
func (a *Agent) executeToolCall(ctx context.Context, tc openai.ToolCall) string {
	name := tc.Function.Name
	c, ok := a.toolNameSet[name]
	if !ok {
		logger.L.Warn("LLM requested an unknown tool", "tool", name)
		return fmt.Sprintf("Error: tool %s is not available", name)
	}

	var args any = map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			logger.L.Error("Failed to unmarshal tool arguments", "tool", name, "error", err)
			return "Error: Could not parse arguments for tool " + name
		}
	}

	logger.L.Debug("Calling MCP tool", "tool", name, "arguments", args)
	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		logger.L.Warn("MCP CallTool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error calling tool %s: %v", name, err)
	}
	if res == nil {
		return "Error: tool " + name + " returned no result"
	}

	var out string
	for _, item := range res.Content {
		if text, ok := item.(mcp.TextContent); ok {
			out = text.Text
			break
		}
	}
	if res.IsError {
		logger.L.Warn("MCP tool executed with IsError=true", "tool", name, "content", out)
		if out == "" {
			out = "Tool execution resulted in an error without specific text."
		}
		return out
	}
	if out == "" {
		b, merr := json.Marshal(res)
		if merr != nil {
			return "Tool executed successfully, but result could not be formatted."
		}
		out = string(b)
	}
	return out
}
