package history

import (
	"context"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps records in process memory. It is the ephemeral
// strategy and the fallback when no database can be reached.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Insert appends a record.
func (b *MemoryBackend) Insert(_ context.Context, r Record) error {
	b.mu.Lock()
	b.records = append(b.records, r)
	b.mu.Unlock()
	return nil
}

func timeOf(r Record) time.Time {
	if r.Timestamp == nil {
		return Epoch
	}
	return *r.Timestamp
}

// Query returns one conversation ordered by timestamp, ties by insertion.
func (b *MemoryBackend) Query(_ context.Context, conversationID string, q Query) ([]Record, error) {
	b.mu.RLock()
	var out []Record
	for _, r := range b.records {
		if r.ConversationID == conversationID {
			out = append(out, r)
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return timeOf(out[i]).Before(timeOf(out[j])) })
	if q.Newest {
		slices.Reverse(out)
	}
	if q.Skip >= len(out) {
		return nil, nil
	}
	out = out[q.Skip:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// DeleteConversation drops every record of a conversation.
func (b *MemoryBackend) DeleteConversation(_ context.Context, conversationID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.records[:0]
	var n int64
	for _, r := range b.records {
		if r.ConversationID == conversationID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	b.records = kept
	return n, nil
}

// Summaries groups records by conversation, newest conversation first.
func (b *MemoryBackend) Summaries(_ context.Context, limit int) ([]SummaryRecord, error) {
	b.mu.RLock()
	idx := map[string]int{}
	var out []SummaryRecord
	for _, r := range b.records {
		i, ok := idx[r.ConversationID]
		if !ok {
			idx[r.ConversationID] = len(out)
			out = append(out, SummaryRecord{Latest: r, Count: 1})
			continue
		}
		out[i].Count++
		if !timeOf(r).Before(timeOf(out[i].Latest)) {
			out[i].Latest = r
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return timeOf(out[i].Latest).After(timeOf(out[j].Latest))
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Search scores records by how often the query terms occur in their content.
func (b *MemoryBackend) Search(_ context.Context, text string, limit int) ([]ScoredRecord, error) {
	terms := searchTerms(text)
	b.mu.RLock()
	var out []ScoredRecord
	for _, r := range b.records {
		if r.Content == nil {
			continue
		}
		content := strings.ToLower(*r.Content)
		var score float64
		for _, t := range terms {
			score += float64(strings.Count(content, t))
		}
		if score > 0 {
			out = append(out, ScoredRecord{Record: r, Score: score})
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

var termRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// searchTerms splits free text into distinct lower-case words.
func searchTerms(text string) []string {
	var out []string
	for _, t := range termRe.FindAllString(strings.ToLower(text), -1) {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
