package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-rag/internal/history"
	"github.com/comigor/jarvis-rag/internal/retrieval"
)

type mockResolver struct {
	resolveFunc func(ctx context.Context, id string, limit int, exclude bool) []history.Message
}

func (m *mockResolver) Resolve(ctx context.Context, id string, limit int, exclude bool) []history.Message {
	return m.resolveFunc(ctx, id, limit, exclude)
}

type mockRetriever struct {
	retrieveFunc func(ctx context.Context, query string) ([]retrieval.Source, error)
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string) ([]retrieval.Source, error) {
	return m.retrieveFunc(ctx, query)
}

func callRequest(name string, args any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	var out T
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestHistoryTool(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)
	var gotLimit int
	var gotExclude bool
	tool := NewHistoryTool(&mockResolver{
		resolveFunc: func(_ context.Context, id string, limit int, exclude bool) []history.Message {
			gotLimit, gotExclude = limit, exclude
			return []history.Message{{ConversationID: id, Role: history.RoleUser, Content: "hi", Timestamp: ts}}
		},
	})

	res, err := tool.Handle(context.Background(), callRequest(HistoryToolName, map[string]any{"conversation_id": "c1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	out := decodeResult[HistoryResponse](t, res)
	assert.Equal(t, "c1", out.ConversationID)
	assert.Equal(t, 1, out.MessageCount)
	assert.Equal(t, HistoryMessage{Role: "user", Content: "hi", Timestamp: "2024-03-01T10:00:00.000000123Z"}, out.Messages[0])
	assert.Zero(t, gotLimit)
	assert.True(t, gotExclude, "exclude_current defaults to true")

	_, err = tool.Handle(context.Background(), callRequest(HistoryToolName, map[string]any{
		"conversation_id": "c1", "limit": 4, "exclude_current": false,
	}))
	require.NoError(t, err)
	assert.Equal(t, 4, gotLimit)
	assert.False(t, gotExclude)
}

func TestHistoryTool_InvalidArguments(t *testing.T) {
	tool := NewHistoryTool(&mockResolver{
		resolveFunc: func(context.Context, string, int, bool) []history.Message {
			t.Fatal("resolver must not be called")
			return nil
		},
	})

	for name, args := range map[string]any{
		"missing id": map[string]any{"limit": 3},
		"array":      []any{"c1"},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := tool.Handle(context.Background(), callRequest(HistoryToolName, args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			out := decodeResult[HistoryResponse](t, res)
			assert.Contains(t, out.Error, "invalid tool arguments")
			assert.Empty(t, out.Messages)
		})
	}
}

func TestRetrieveTool(t *testing.T) {
	sources := []retrieval.Source{{Index: 1, Content: "doc", Metadata: map[string]any{"lang": "en"}}}
	tool := NewRetrieveTool(&mockRetriever{
		retrieveFunc: func(_ context.Context, q string) ([]retrieval.Source, error) {
			assert.Equal(t, "what is mcp", q)
			return sources, nil
		},
	})

	res, err := tool.Handle(context.Background(), callRequest(RetrieveToolName, map[string]any{"query": "what is mcp", "context": "ignored"}))
	require.NoError(t, err)
	out := decodeResult[RetrieveResponse](t, res)
	assert.Equal(t, 1, out.DocumentCount)
	assert.Equal(t, "what is mcp", out.Query)
	assert.Equal(t, sources, out.Sources)
	assert.Empty(t, out.Error)
}

func TestRetrieveTool_ProviderFailure(t *testing.T) {
	tool := NewRetrieveTool(&mockRetriever{
		retrieveFunc: func(context.Context, string) ([]retrieval.Source, error) {
			return nil, errors.New("AccessDenied")
		},
	})

	res, err := tool.Handle(context.Background(), callRequest(RetrieveToolName, map[string]any{"query": "q"}))
	require.NoError(t, err, "provider failures are not transport faults")
	assert.True(t, res.IsError)
	out := decodeResult[RetrieveResponse](t, res)
	assert.Contains(t, out.Error, "AccessDenied")
	assert.Zero(t, out.DocumentCount)
	assert.NotNil(t, out.Sources)
}

func TestFilterTool(t *testing.T) {
	args := map[string]any{
		"sources": []any{
			map[string]any{"index": 1, "content": "a", "metadata": map[string]any{"lang": "en"}},
			map[string]any{"index": 2, "content": "b", "metadata": map[string]any{"lang": "fr"}},
		},
		"field": "lang",
		"value": "en",
	}

	res, err := NewFilterTool().Handle(context.Background(), callRequest(FilterToolName, args))
	require.NoError(t, err)
	out := decodeResult[FilterResponse](t, res)
	assert.Equal(t, 2, out.OriginalCount)
	assert.Equal(t, 1, out.FilteredCount)
	require.Len(t, out.FilteredSources, 1)
	assert.Equal(t, "a", out.FilteredSources[0].Content)
	assert.Equal(t, "lang", out.Field)
	assert.Equal(t, "en", out.Value)
	assert.Empty(t, out.AvailableFields)

	args["field"] = "author"
	res, err = NewFilterTool().Handle(context.Background(), callRequest(FilterToolName, args))
	require.NoError(t, err)
	out = decodeResult[FilterResponse](t, res)
	assert.Zero(t, out.FilteredCount)
	assert.Equal(t, []string{"lang"}, out.AvailableFields)
}

func TestToolManager(t *testing.T) {
	m := NewToolManager()
	m.RegisterTool(NewRetrieveTool(nil))
	m.RegisterTool(NewFilterTool())

	names := []string{}
	for _, tool := range m.List() {
		names = append(names, tool.Definition().Name)
	}
	assert.Equal(t, []string{FilterToolName, RetrieveToolName}, names)

	m.RegisterTool(NewFilterTool())
	assert.Len(t, m.List(), 2, "re-registering a name replaces the tool")
}

func TestServers_InProcess(t *testing.T) {
	ctx := context.Background()
	srv := NewHistoryServer(&mockResolver{
		resolveFunc: func(_ context.Context, id string, _ int, _ bool) []history.Message {
			return []history.Message{{ConversationID: id, Role: history.RoleAssistant, Content: "earlier", Timestamp: history.Epoch}}
		},
	})

	c, err := client.NewInProcessClient(srv)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(ctx))

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "0"}
	_, err = c.Initialize(ctx, initReq)
	require.NoError(t, err)

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, HistoryToolName, list.Tools[0].Name)

	res, err := c.CallTool(ctx, callRequest(HistoryToolName, map[string]any{
		"request": map[string]any{"conversation_id": "c9"},
	}))
	require.NoError(t, err)
	out := decodeResult[HistoryResponse](t, res)
	assert.Equal(t, "c9", out.ConversationID)
	assert.Equal(t, "earlier", out.Messages[0].Content)
	assert.Equal(t, "1970-01-01T00:00:00Z", out.Messages[0].Timestamp)
}

func TestDocumentServer_ListsTools(t *testing.T) {
	ctx := context.Background()
	c, err := client.NewInProcessClient(NewDocumentServer(&mockRetriever{}))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(ctx))

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	_, err = c.Initialize(ctx, initReq)
	require.NoError(t, err)

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	names := []string{}
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{RetrieveToolName, FilterToolName}, names)
}
