// Package history persists conversation messages and resolves bounded
// history windows over them.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/comigor/jarvis-rag/internal/logger"
)

// Kind tells callers whether stored messages survive a restart.
type Kind string

const (
	KindDurable   Kind = "durable"
	KindEphemeral Kind = "ephemeral"
)

// FetchOptions controls Store.Fetch. Zero Limit means every message.
// With Newest set the newest messages come first.
type FetchOptions struct {
	Limit  int
	Skip   int
	Newest bool
}

// Store is the message store used by the agent and the history tools.
// Its operations never return errors: failures are logged and surface as
// false, zero or empty results.
type Store struct {
	backend Backend
	kind    Kind

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewStore wraps a backend.
func NewStore(b Backend, kind Kind) *Store {
	return &Store{
		backend: b,
		kind:    kind,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Kind reports whether the store is durable.
func (s *Store) Kind() Kind { return s.kind }

// stamp returns the store clock, never earlier than a previous stamp.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

// Append stores one message stamped with the current time.
func (s *Store) Append(ctx context.Context, conversationID, role, content string) bool {
	rec := NewRecord(conversationID, role, content, s.stamp())
	if err := s.backend.Insert(ctx, rec); err != nil {
		logger.L.Error("append message failed", "conversation_id", conversationID, "role", role, "error", err)
		return false
	}
	logger.L.Info("message appended", "conversation_id", conversationID, "role", role, "count", 1)
	return true
}

// Fetch returns the messages of one conversation ordered by timestamp.
func (s *Store) Fetch(ctx context.Context, conversationID string, opts FetchOptions) []Message {
	q := Query{Limit: max(opts.Limit, 0), Skip: max(opts.Skip, 0), Newest: opts.Newest}
	recs, err := s.backend.Query(ctx, conversationID, q)
	if err != nil {
		logger.L.Error("fetch messages failed", "conversation_id", conversationID, "error", err)
		return []Message{}
	}
	out := make([]Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, s.migrate(r))
	}
	return out
}

// DeleteAll removes every message of a conversation. Deleting an unknown
// conversation succeeds with a zero count.
func (s *Store) DeleteAll(ctx context.Context, conversationID string) (int64, bool) {
	n, err := s.backend.DeleteConversation(ctx, conversationID)
	if err != nil {
		logger.L.Error("delete conversation failed", "conversation_id", conversationID, "error", err)
		return 0, false
	}
	logger.L.Info("conversation deleted", "conversation_id", conversationID, "count", n)
	return n, true
}

// RecentConversations lists conversations by their newest message, most
// recent first.
func (s *Store) RecentConversations(ctx context.Context, limit int) []ConversationSummary {
	if limit <= 0 {
		return []ConversationSummary{}
	}
	recs, err := s.backend.Summaries(ctx, limit)
	if err != nil {
		logger.L.Error("list conversations failed", "error", err)
		return []ConversationSummary{}
	}
	out := make([]ConversationSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, ConversationSummary{
			ConversationID: r.Latest.ConversationID,
			LatestMessage:  s.migrate(r.Latest),
			MessageCount:   r.Count,
		})
	}
	return out
}

// Search runs a full-text query over message content across all
// conversations, best match first.
func (s *Store) Search(ctx context.Context, text string, limit int) []SearchHit {
	if limit <= 0 || len(searchTerms(text)) == 0 {
		return []SearchHit{}
	}
	recs, err := s.backend.Search(ctx, text, limit)
	if err != nil {
		logger.L.Error("search messages failed", "query", text, "error", err)
		return []SearchHit{}
	}
	out := make([]SearchHit, 0, len(recs))
	for _, r := range recs {
		out = append(out, SearchHit{Message: s.migrate(r.Record), Score: r.Score})
	}
	return out
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) migrate(r Record) Message {
	if r.Role == nil && r.Type == nil {
		logger.L.Warn("stored message has no role; assuming user", "conversation_id", r.ConversationID)
	}
	return Migrate(r)
}
