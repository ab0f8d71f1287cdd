package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/jarvis-rag/internal/history"
	"github.com/comigor/jarvis-rag/internal/logger"
)

// HistoryToolName is the MCP name of the conversation history tool.
const HistoryToolName = "get_conversation_history"

// WindowResolver resolves the history window of a conversation.
type WindowResolver interface {
	Resolve(ctx context.Context, conversationID string, limit int, excludeCurrent bool) []history.Message
}

// HistoryRequest is the only accepted shape of get_conversation_history
// arguments. ExcludeCurrent defaults to true.
type HistoryRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          *int   `json:"limit,omitempty"`
	ExcludeCurrent *bool  `json:"exclude_current,omitempty"`
}

// HistoryMessage is a message with its timestamp rendered as RFC 3339.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// HistoryResponse is returned by get_conversation_history.
type HistoryResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []HistoryMessage `json:"messages"`
	MessageCount   int              `json:"message_count"`
	Error          string           `json:"error,omitempty"`
}

// HistoryTool exposes the history window resolver.
type HistoryTool struct {
	resolver WindowResolver
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(r WindowResolver) *HistoryTool {
	return &HistoryTool{resolver: r}
}

// Definition implements Tool.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool(HistoryToolName,
		mcp.WithDescription("Retrieve the earlier messages of a conversation, oldest first. Use it when the user asks about previous questions, answers or anything discussed before."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Identifier of the conversation to read."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return. Defaults to the server setting."),
		),
		mcp.WithBoolean("exclude_current",
			mcp.Description("Leave out the exchange currently being answered. Defaults to true."),
		),
	)
}

// Handle implements Tool.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in HistoryRequest
	if err := DecodeArguments(req.Params.Arguments, &in, "conversation_id"); err != nil {
		logger.L.Warn("rejected history request", "error", err)
		return jsonResult(HistoryResponse{Messages: []HistoryMessage{}, Error: err.Error()}, err.Error())
	}
	if in.ConversationID == "" {
		msg := ErrInvalidArguments.Error() + ": conversation_id is required"
		return jsonResult(HistoryResponse{Messages: []HistoryMessage{}, Error: msg}, msg)
	}

	limit := 0
	if in.Limit != nil {
		limit = *in.Limit
	}
	exclude := true
	if in.ExcludeCurrent != nil {
		exclude = *in.ExcludeCurrent
	}

	msgs := t.resolver.Resolve(ctx, in.ConversationID, limit, exclude)
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	logger.L.Info("conversation history served", "conversation_id", in.ConversationID, "count", len(out), "exclude_current", exclude)

	return jsonResult(HistoryResponse{
		ConversationID: in.ConversationID,
		Messages:       out,
		MessageCount:   len(out),
	}, "")
}
