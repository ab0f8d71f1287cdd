package history

import (
	"context"
	"fmt"
	"regexp"
)

// Query narrows a per-conversation fetch. Zero Limit means unbounded.
type Query struct {
	Limit  int
	Skip   int
	Newest bool
}

// SummaryRecord is the raw form of a ConversationSummary.
type SummaryRecord struct {
	Latest Record
	Count  int64
}

// ScoredRecord is the raw form of a SearchHit.
type ScoredRecord struct {
	Record
	Score float64
}

// Backend is a storage strategy for conversation records. Implementations
// return errors; Store turns them into the degraded results callers see.
// Records sharing a timestamp must come back in insertion order.
type Backend interface {
	Insert(ctx context.Context, r Record) error
	Query(ctx context.Context, conversationID string, q Query) ([]Record, error)
	DeleteConversation(ctx context.Context, conversationID string) (int64, error)
	Summaries(ctx context.Context, limit int) ([]SummaryRecord, error)
	Search(ctx context.Context, text string, limit int) ([]ScoredRecord, error)
	Close() error
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkTable(table string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}
