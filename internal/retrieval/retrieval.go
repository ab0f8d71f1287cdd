// Package retrieval queries the external knowledge base and shapes the
// results into numbered sources.
package retrieval

import (
	"context"
	"fmt"

	"github.com/comigor/jarvis-rag/internal/logger"
)

// Document is one knowledge-base hit.
type Document struct {
	Content  string
	Metadata map[string]any
	Score    float64
}

// Source is a document as returned to tool callers. Index starts at 1.
type Source struct {
	Index    int            `json:"index"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Searcher runs the first-stage knowledge-base search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Document, error)
}

// Reranker reorders and trims first-stage results.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document) ([]Document, error)
}

// Retriever chains a Searcher with an optional Reranker.
type Retriever struct {
	searcher Searcher
	reranker Reranker
}

// New returns a Retriever. A nil reranker returns search results as is.
func New(s Searcher, r Reranker) *Retriever {
	return &Retriever{searcher: s, reranker: r}
}

// Retrieve searches the knowledge base for query and returns formatted sources.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Source, error) {
	docs, err := r.searcher.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	logger.L.Debug("knowledge base search", "query", truncate(query, 50), "count", len(docs))

	if r.reranker != nil && len(docs) > 0 {
		docs, err = r.reranker.Rerank(ctx, query, docs)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}

	sources := Format(docs)
	logger.L.Info("documents retrieved", "query", truncate(query, 50), "count", len(sources))
	return sources, nil
}

// Format numbers documents from 1. Missing metadata becomes an empty map.
func Format(docs []Document) []Source {
	out := make([]Source, 0, len(docs))
	for i, d := range docs {
		md := d.Metadata
		if md == nil {
			md = map[string]any{}
		}
		out = append(out, Source{Index: i + 1, Content: d.Content, Metadata: md})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
