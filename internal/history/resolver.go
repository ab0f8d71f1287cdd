package history

import (
	"context"
	"slices"

	"github.com/comigor/jarvis-rag/internal/logger"
)

// Fetcher is the read side of Store.
type Fetcher interface {
	Fetch(ctx context.Context, conversationID string, opts FetchOptions) []Message
}

// Resolver produces the bounded window of recent messages handed to the
// model as context.
type Resolver struct {
	store        Fetcher
	defaultLimit int
}

// NewResolver returns a resolver using defaultLimit when callers pass a
// non-positive limit.
func NewResolver(store Fetcher, defaultLimit int) *Resolver {
	return &Resolver{store: store, defaultLimit: defaultLimit}
}

// Resolve returns up to limit of the newest messages in chronological
// order. With excludeCurrent the in-flight exchange is dropped: when either
// of the two newest messages is a user message, the two newest messages are
// removed. Two extra messages are fetched so the window stays full after
// the drop; without a drop the window is still capped at limit.
func (r *Resolver) Resolve(ctx context.Context, conversationID string, limit int, excludeCurrent bool) []Message {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	fetch := limit
	if excludeCurrent {
		fetch += 2
	}

	msgs := r.store.Fetch(ctx, conversationID, FetchOptions{Limit: fetch, Newest: true})
	if excludeCurrent && len(msgs) >= 2 {
		for i := 0; i < 2; i++ {
			if msgs[i].Role == RoleUser {
				msgs = msgs[2:]
				break
			}
		}
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)

	logger.L.Debug("history window resolved", "conversation_id", conversationID, "count", len(msgs), "exclude_current", excludeCurrent)
	return msgs
}
