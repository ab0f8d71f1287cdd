package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/jarvis-rag/internal/logger"
	"github.com/comigor/jarvis-rag/internal/retrieval"
)

// Document tool names.
const (
	RetrieveToolName = "retrieve_documents"
	FilterToolName   = "filter_by_metadata"
)

// DocumentRetriever fetches knowledge-base sources for a query.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Source, error)
}

// RetrieveRequest is the only accepted shape of retrieve_documents arguments.
type RetrieveRequest struct {
	Query   string `json:"query"`
	Context string `json:"context,omitempty"`
}

// RetrieveResponse is returned by retrieve_documents.
type RetrieveResponse struct {
	Sources       []retrieval.Source `json:"sources"`
	Query         string             `json:"query"`
	DocumentCount int                `json:"document_count"`
	Error         string             `json:"error,omitempty"`
}

// RetrieveTool searches the knowledge base.
type RetrieveTool struct {
	retriever DocumentRetriever
}

// NewRetrieveTool creates a RetrieveTool.
func NewRetrieveTool(r DocumentRetriever) *RetrieveTool {
	return &RetrieveTool{retriever: r}
}

// Definition implements Tool.
func (t *RetrieveTool) Definition() mcp.Tool {
	return mcp.NewTool(RetrieveToolName,
		mcp.WithDescription("Search the knowledge base and return the most relevant passages as numbered sources with their metadata."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question or search terms."),
		),
		mcp.WithString("context",
			mcp.Description("Optional extra context about the question."),
		),
	)
}

// Handle implements Tool. Retrieval failures are reported in the response
// error field.
func (t *RetrieveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in RetrieveRequest
	if err := DecodeArguments(req.Params.Arguments, &in, "query"); err != nil {
		logger.L.Warn("rejected retrieve request", "error", err)
		return jsonResult(RetrieveResponse{Sources: []retrieval.Source{}, Error: err.Error()}, err.Error())
	}
	if in.Query == "" {
		msg := ErrInvalidArguments.Error() + ": query is required"
		return jsonResult(RetrieveResponse{Sources: []retrieval.Source{}, Error: msg}, msg)
	}
	if in.Context != "" {
		logger.L.Debug("retrieve context ignored", "context", in.Context)
	}

	sources, err := t.retriever.Retrieve(ctx, in.Query)
	if err != nil {
		msg := fmt.Sprintf("Error retrieving documents: %v", err)
		logger.L.Error("document retrieval failed", "query", in.Query, "error", err)
		return jsonResult(RetrieveResponse{Sources: []retrieval.Source{}, Query: in.Query, Error: msg}, msg)
	}
	return jsonResult(RetrieveResponse{
		Sources:       sources,
		Query:         in.Query,
		DocumentCount: len(sources),
	}, "")
}

// FilterRequest is the only accepted shape of filter_by_metadata arguments.
type FilterRequest struct {
	Sources []retrieval.Source `json:"sources"`
	Field   string             `json:"field"`
	Value   any                `json:"value"`
}

// FilterResponse is returned by filter_by_metadata. AvailableFields lists
// the metadata fields present when nothing matched.
type FilterResponse struct {
	FilteredSources []retrieval.Source `json:"filtered_sources"`
	Field           string             `json:"field"`
	Value           any                `json:"value"`
	OriginalCount   int                `json:"original_count"`
	FilteredCount   int                `json:"filtered_count"`
	AvailableFields []string           `json:"available_fields,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// FilterTool narrows sources by an exact metadata match.
type FilterTool struct{}

// NewFilterTool creates a FilterTool.
func NewFilterTool() *FilterTool { return &FilterTool{} }

var filterSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"sources": {
			"type": "array",
			"description": "Sources as returned by retrieve_documents.",
			"items": {"type": "object"}
		},
		"field": {"type": "string", "description": "Metadata field to compare."},
		"value": {"description": "Value the field must equal exactly."}
	},
	"required": ["sources", "field", "value"]
}`)

// Definition implements Tool.
func (t *FilterTool) Definition() mcp.Tool {
	return mcp.NewToolWithRawSchema(FilterToolName,
		"Keep only the sources whose metadata field equals the given value. Sources without the field are dropped.",
		filterSchema)
}

// Handle implements Tool.
func (t *FilterTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in FilterRequest
	if err := DecodeArguments(req.Params.Arguments, &in, ""); err != nil {
		logger.L.Warn("rejected filter request", "error", err)
		return jsonResult(FilterResponse{FilteredSources: []retrieval.Source{}, Error: err.Error()}, err.Error())
	}
	if in.Field == "" {
		msg := ErrInvalidArguments.Error() + ": field is required"
		return jsonResult(FilterResponse{FilteredSources: []retrieval.Source{}, Error: msg}, msg)
	}

	filtered := retrieval.FilterByMetadata(in.Sources, in.Field, in.Value)
	logger.L.Info("sources filtered", "field", in.Field, "original_count", len(in.Sources), "count", len(filtered))
	resp := FilterResponse{
		FilteredSources: filtered,
		Field:           in.Field,
		Value:           in.Value,
		OriginalCount:   len(in.Sources),
		FilteredCount:   len(filtered),
	}
	if len(filtered) == 0 {
		resp.AvailableFields = retrieval.MetadataFields(in.Sources)
	}
	return jsonResult(resp, "")
}
