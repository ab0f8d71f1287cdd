package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// ClientType selects the transport used to reach an MCP server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
	// ClientTypeInProcess attaches to a tool server hosted by the same binary.
	ClientTypeInProcess ClientType = "inprocess"
)

// History backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	LLM        LLMConfig         `mapstructure:"llm"`
	Agent      AgentConfig       `mapstructure:"agent"`
	Server     ServerConfig      `mapstructure:"server"`
	Log        LogConfig         `mapstructure:"log"`
	History    HistoryConfig     `mapstructure:"history"`
	Retrieval  RetrievalConfig   `mapstructure:"retrieval"`
	ToolServer ToolServerConfig  `mapstructure:"tool_server"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	TopP         float32 `mapstructure:"top_p"`
}

// AgentConfig bounds the model/tool loop.
type AgentConfig struct {
	MaxTurns int `mapstructure:"max_turns"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HistoryConfig selects and tunes the message store.
type HistoryConfig struct {
	Backend          string        `mapstructure:"backend"`
	SQLitePath       string        `mapstructure:"sqlite_path"`
	PostgresURL      string        `mapstructure:"postgres_url"`
	Table            string        `mapstructure:"table"`
	MaxLength        int           `mapstructure:"max_length"`
	FallbackToMemory bool          `mapstructure:"fallback_to_memory"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// RetrievalConfig holds the knowledge base and reranking settings.
type RetrievalConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	KnowledgeBaseID string `mapstructure:"knowledge_base_id"`
	UseReranking    bool   `mapstructure:"use_reranking"`
	RerankModelID   string `mapstructure:"rerank_model_id"`
	InitialResults  int    `mapstructure:"initial_results"`
	TopN            int    `mapstructure:"top_n"`
}

// ToolServerConfig holds the listen addresses of the MCP tool servers.
type ToolServerConfig struct {
	Host          string `mapstructure:"host"`
	HistoryPort   string `mapstructure:"history_port"`
	DocumentsPort string `mapstructure:"documents_port"`
}

// MCPServerConfig describes one MCP server the agent connects to.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

var defaults = map[string]any{
	"llm.provider":      "openai",
	"llm.base_url":      "https://api.openai.com/v1",
	"llm.api_key":       "",
	"llm.model":         "gpt-4o-mini",
	"llm.system_prompt": "",
	"llm.temperature":   0.0,
	"llm.max_tokens":    3000,
	"llm.top_p":         0.9,

	"agent.max_turns": 5,

	"server.host":            "0.0.0.0",
	"server.port":            "8000",
	"server.request_timeout": "60s",
	"server.allowed_origins": []string{"*"},

	"log.level":  "info",
	"log.format": "json",

	"history.backend":            BackendSQLite,
	"history.sqlite_path":        "history.db",
	"history.postgres_url":       "",
	"history.table":              "conversations",
	"history.max_length":         10,
	"history.fallback_to_memory": true,
	"history.connect_timeout":    "5s",

	"retrieval.region":            "us-east-1",
	"retrieval.access_key_id":     "",
	"retrieval.secret_access_key": "",
	"retrieval.session_token":     "",
	"retrieval.knowledge_base_id": "",
	"retrieval.use_reranking":     true,
	"retrieval.rerank_model_id":   "amazon.rerank-v1:0",
	"retrieval.initial_results":   5,
	"retrieval.top_n":             3,

	"tool_server.host":           "0.0.0.0",
	"tool_server.history_port":   "3004",
	"tool_server.documents_port": "3003",
}

// Env names used by earlier deployments, kept as aliases.
var legacyEnv = map[string][]string{
	"history.max_length":          {"MAX_HISTORY_LENGTH"},
	"history.postgres_url":        {"DATABASE_URL"},
	"retrieval.region":            {"AWS_REGION"},
	"retrieval.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"retrieval.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},
	"retrieval.session_token":     {"AWS_SESSION_TOKEN"},
	"retrieval.knowledge_base_id": {"KNOWLEDGE_BASE_ID"},
	"retrieval.use_reranking":     {"USE_RERANKING"},
	"retrieval.rerank_model_id":   {"RERANK_MODEL_ID"},
	"retrieval.initial_results":   {"INITIAL_RESULTS"},
	"retrieval.top_n":             {"TOP_N_RESULTS"},
	"llm.temperature":             {"TEMPERATURE"},
	"llm.max_tokens":              {"MAX_TOKENS"},
	"llm.top_p":                   {"TOP_P"},
	"log.level":                   {"LOG_LEVEL"},
}

// Load reads config.yaml (or the file named by CONFIG_PATH), applies
// defaults and environment overrides, and validates the result. A .env file
// in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range legacyEnv {
		names := append([]string{strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	path := os.Getenv("CONFIG_PATH")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.History.Backend {
	case BackendSQLite:
		if c.History.SQLitePath == "" {
			return fmt.Errorf("%w: history.sqlite_path is empty", ErrInvalid)
		}
	case BackendPostgres:
		if c.History.PostgresURL == "" {
			return fmt.Errorf("%w: history.postgres_url is required for the postgres backend", ErrInvalid)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown history.backend %q", ErrInvalid, c.History.Backend)
	}
	if c.History.MaxLength <= 0 {
		return fmt.Errorf("%w: history.max_length must be positive", ErrInvalid)
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("%w: agent.max_turns must be positive", ErrInvalid)
	}
	if c.Retrieval.InitialResults <= 0 || c.Retrieval.TopN <= 0 {
		return fmt.Errorf("%w: retrieval.initial_results and retrieval.top_n must be positive", ErrInvalid)
	}
	for i, s := range c.MCPServers {
		switch s.Type {
		case ClientTypeSSE, ClientTypeStreamableHTTP:
			if s.URL == "" {
				return fmt.Errorf("%w: mcp_servers[%d] (%s) needs a url", ErrInvalid, i, s.Name)
			}
		case ClientTypeStdio:
			if s.Command == "" {
				return fmt.Errorf("%w: mcp_servers[%d] (%s) needs a command", ErrInvalid, i, s.Name)
			}
		case ClientTypeInProcess:
			if s.Name == "" {
				return fmt.Errorf("%w: mcp_servers[%d] inprocess entries need a name", ErrInvalid, i)
			}
		default:
			return fmt.Errorf("%w: mcp_servers[%d] (%s) has unsupported type %q", ErrInvalid, i, s.Name, s.Type)
		}
	}
	return nil
}

// Addr joins a host and port.
func Addr(host, port string) string {
	return fmt.Sprintf("%s:%s", host, port)
}
