package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/jarvis-rag/internal/history"
	"github.com/comigor/jarvis-rag/internal/logger"
	"github.com/comigor/jarvis-rag/internal/retrieval"
	"github.com/comigor/jarvis-rag/pkg/tools"
)

// NoAnswer is recorded when the model finishes without any text.
const NoAnswer = "Error: Could not generate an answer for this query."

// ErrEmptyQuery is returned by Answer for a blank query.
var ErrEmptyQuery = errors.New("query must not be empty")

// Runner runs the model/tool loop. *Agent implements it.
type Runner interface {
	Run(ctx context.Context, systemPrompt string, messages []openai.ChatCompletionMessage) ([]openai.ChatCompletionMessage, error)
}

// MessageStore is the part of *history.Store the orchestrator uses.
type MessageStore interface {
	history.Fetcher
	Append(ctx context.Context, conversationID, role, content string) bool
	DeleteAll(ctx context.Context, conversationID string) (int64, bool)
	RecentConversations(ctx context.Context, limit int) []history.ConversationSummary
	Search(ctx context.Context, text string, limit int) []history.SearchHit
}

// Query is one question asked within a conversation. An empty
// ConversationID starts a new conversation.
type Query struct {
	Text           string
	ConversationID string
}

// Result is the outcome of Answer. Error is set when Answer holds an error
// text instead of a model answer. Persisted reports whether both sides of
// the exchange reached the store.
type Result struct {
	ConversationID string             `json:"conversation_id"`
	Answer         string             `json:"answer"`
	Messages       []history.Message  `json:"messages"`
	Sources        []retrieval.Source `json:"sources"`
	Error          bool               `json:"error"`
	Persisted      bool               `json:"persisted"`
}

// Orchestrator answers queries and records every exchange in the store.
type Orchestrator struct {
	runner       Runner
	store        MessageStore
	resolver     *history.Resolver
	systemPrompt string
}

// NewOrchestrator creates an Orchestrator. An empty systemPrompt selects
// DefaultSystemPrompt; historyLimit is the default window for History.
func NewOrchestrator(runner Runner, store MessageStore, systemPrompt string, historyLimit int) *Orchestrator {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Orchestrator{
		runner:       runner,
		store:        store,
		resolver:     history.NewResolver(store, historyLimit),
		systemPrompt: systemPrompt,
	}
}

// Answer runs one query through the model. The query and the answer, or
// the error text standing in for it, are both appended to the conversation.
// Once started, a turn runs to completion even if ctx is cancelled.
func (o *Orchestrator) Answer(ctx context.Context, q Query) (Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Result{}, ErrEmptyQuery
	}
	ctx = context.WithoutCancel(ctx)
	id := q.ConversationID
	if id == "" {
		id = uuid.New().String()
		logger.L.Info("Starting new conversation", "conversation_id", id)
	}

	res := Result{ConversationID: id, Sources: []retrieval.Source{}}
	asked := time.Now().UTC()
	savedQuery := o.record(ctx, id, history.RoleUser, q.Text)

	transcript, err := o.runner.Run(ctx, o.systemPrompt, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: BuildInstruction(q.Text, id)},
	})
	switch {
	case err != nil:
		logger.L.Error("Answer generation failed", "conversation_id", id, "error", err)
		res.Answer = fmt.Sprintf("An error occurred while generating the answer: %v", err)
		res.Error = true
	default:
		res.Answer = lastAnswer(transcript)
		if res.Answer == "" {
			logger.L.Warn("Model finished without an answer", "conversation_id", id, "messages", len(transcript))
			res.Answer = NoAnswer
			res.Error = true
		}
		res.Sources = sourcesFrom(transcript)
	}

	savedAnswer := o.record(ctx, id, history.RoleAssistant, res.Answer)
	res.Persisted = savedQuery && savedAnswer
	res.Messages = []history.Message{
		{ConversationID: id, Role: history.RoleUser, Content: q.Text, Timestamp: asked},
		{ConversationID: id, Role: history.RoleAssistant, Content: res.Answer, Timestamp: time.Now().UTC()},
	}
	return res, nil
}

func (o *Orchestrator) record(ctx context.Context, id, role, content string) bool {
	if o.store.Append(ctx, id, role, content) {
		return true
	}
	logger.L.Error("Exchange not persisted", "conversation_id", id, "role", role)
	return false
}

func lastAnswer(transcript []openai.ChatCompletionMessage) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Role == openai.ChatMessageRoleAssistant && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

// sourcesFrom returns the sources of the last successful document
// retrieval in the transcript.
func sourcesFrom(transcript []openai.ChatCompletionMessage) []retrieval.Source {
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Role != openai.ChatMessageRoleTool || m.Name != tools.RetrieveToolName {
			continue
		}
		var resp tools.RetrieveResponse
		if err := json.Unmarshal([]byte(m.Content), &resp); err != nil {
			logger.L.Debug("Skipping unparsable retrieval result", "error", err)
			continue
		}
		if resp.Error != "" || len(resp.Sources) == 0 {
			continue
		}
		return resp.Sources
	}
	return []retrieval.Source{}
}

// History returns a conversation oldest first. A positive limit returns
// only the newest limit messages; otherwise the whole conversation.
func (o *Orchestrator) History(ctx context.Context, conversationID string, limit int) []history.Message {
	if limit <= 0 {
		return o.store.Fetch(ctx, conversationID, history.FetchOptions{})
	}
	return o.resolver.Resolve(ctx, conversationID, limit, false)
}

// Clear deletes a conversation.
func (o *Orchestrator) Clear(ctx context.Context, conversationID string) (int64, bool) {
	return o.store.DeleteAll(ctx, conversationID)
}

// RecentConversations lists the most recently active conversations.
func (o *Orchestrator) RecentConversations(ctx context.Context, limit int) []history.ConversationSummary {
	return o.store.RecentConversations(ctx, limit)
}

// Search finds messages across conversations.
func (o *Orchestrator) Search(ctx context.Context, text string, limit int) []history.SearchHit {
	return o.store.Search(ctx, text, limit)
}
