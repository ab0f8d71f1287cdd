package llm

import (
	"math"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/jarvis-rag/internal/config"
)

// NewClient creates an OpenAI-compatible client. An empty base URL keeps
// the library default.
func NewClient(cfg config.LLMConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

// NewRequest builds a chat completion request carrying the configured
// sampling parameters. Tools are offered only when there are some.
func NewRequest(cfg config.LLMConfig, messages []openai.ChatCompletionMessage, tools []openai.Tool) openai.ChatCompletionRequest {
	// Temperature is omitempty on the wire, so a plain 0 would fall back
	// to the provider default.
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	return req
}
