// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/comigor/jarvis-rag/internal/agent"
	"github.com/comigor/jarvis-rag/internal/history"
	"github.com/comigor/jarvis-rag/internal/logger"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Service is what the handlers need from *agent.Orchestrator.
type Service interface {
	Answer(ctx context.Context, q agent.Query) (agent.Result, error)
	History(ctx context.Context, conversationID string, limit int) []history.Message
	Clear(ctx context.Context, conversationID string) (int64, bool)
	RecentConversations(ctx context.Context, limit int) []history.ConversationSummary
	Search(ctx context.Context, text string, limit int) []history.SearchHit
}

// Options tunes the router.
type Options struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter builds the HTTP API.
func NewRouter(svc Service, opts Options) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/query", h.query)
		r.Get("/search", h.search)
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.recentConversations)
			r.Get("/{conversation_id}", h.conversationHistory)
			r.Delete("/{conversation_id}", h.clearConversation)
		})
	})
	return r
}

// requestLogger logs one line per request through the global logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.L.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("write response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
