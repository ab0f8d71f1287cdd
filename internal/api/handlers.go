package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comigor/jarvis-rag/internal/agent"
	"github.com/comigor/jarvis-rag/internal/logger"
	"github.com/comigor/jarvis-rag/internal/retrieval"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type handlers struct {
	svc Service
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// QueryResponse is returned by POST /v1/query.
type QueryResponse struct {
	Answer         string             `json:"answer"`
	Sources        []retrieval.Source `json:"sources"`
	ConversationID string             `json:"conversation_id"`
	RequestID      string             `json:"request_id"`
	Status         string             `json:"status"`
	Error          string             `json:"error,omitempty"`
}

// MessageInfo is one message of a conversation.
type MessageInfo struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// HistoryResponse is returned by GET /v1/conversations/{conversation_id}.
type HistoryResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageInfo `json:"messages"`
	MessageCount   int           `json:"message_count"`
}

// ClearResponse is returned by DELETE /v1/conversations/{conversation_id}.
type ClearResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

// ConversationInfo summarizes one conversation.
type ConversationInfo struct {
	ConversationID string      `json:"conversation_id"`
	LatestMessage  MessageInfo `json:"latest_message"`
	MessageCount   int64       `json:"message_count"`
}

// SearchResult is one message matching a search.
type SearchResult struct {
	ConversationID string  `json:"conversation_id"`
	MessageInfo
	Score float64 `json:"score"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// limitParam reads ?limit=, returning def when absent.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	requestID := uuid.New().String()
	logger.L.Info("query received", "request_id", requestID, "conversation_id", req.ConversationID, "query_length", len(req.Query))

	res, err := h.svc.Answer(r.Context(), agent.Query{Text: req.Query, ConversationID: req.ConversationID})
	if errors.Is(err, agent.ErrEmptyQuery) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.L.Error("query failed", "request_id", requestID, "error", err)
		respondError(w, http.StatusInternalServerError, "Error processing query: "+err.Error())
		return
	}

	resp := QueryResponse{
		Answer:         res.Answer,
		Sources:        res.Sources,
		ConversationID: res.ConversationID,
		RequestID:      requestID,
		Status:         "success",
	}
	if resp.Sources == nil {
		resp.Sources = []retrieval.Source{}
	}
	code := http.StatusOK
	if res.Error {
		resp.Status = "error"
		resp.Error = res.Answer
		code = http.StatusInternalServerError
	}
	respondJSON(w, code, resp)
}

func (h *handlers) conversationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	limit, err := limitParam(r, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs := h.svc.History(r.Context(), id, limit)
	out := make([]MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageInfo{Role: m.Role, Content: m.Content, Timestamp: timestamp(m.Timestamp)})
	}
	respondJSON(w, http.StatusOK, HistoryResponse{ConversationID: id, Messages: out, MessageCount: len(out)})
}

func (h *handlers) clearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	n, ok := h.svc.Clear(r.Context(), id)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Error clearing conversation "+id)
		return
	}
	respondJSON(w, http.StatusOK, ClearResponse{
		Status:       "success",
		Message:      fmt.Sprintf("Conversation %s cleared", id),
		DeletedCount: n,
	})
}

func (h *handlers) recentConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, maxListLimit)

	summaries := h.svc.RecentConversations(r.Context(), limit)
	out := make([]ConversationInfo, 0, len(summaries))
	for _, s := range summaries {
		m := s.LatestMessage
		out = append(out, ConversationInfo{
			ConversationID: s.ConversationID,
			LatestMessage:  MessageInfo{Role: m.Role, Content: m.Content, Timestamp: timestamp(m.Timestamp)},
			MessageCount:   s.MessageCount,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": out, "count": len(out)})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit, err := limitParam(r, defaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, maxListLimit)

	hits := h.svc.Search(r.Context(), q, limit)
	out := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchResult{
			ConversationID: hit.ConversationID,
			MessageInfo:    MessageInfo{Role: hit.Role, Content: hit.Content, Timestamp: timestamp(hit.Timestamp)},
			Score:          hit.Score,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"query": q, "results": out, "count": len(out)})
}
