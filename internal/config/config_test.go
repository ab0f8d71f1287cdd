package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleStdioConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
server:
  host: 0.0.0.0
  port: "8080"
mcp_servers:
  - name: mock
    type: stdio
    command: ./mock
    args: ["--flag"]
    env:
      FOO: bar
  - name: history
    type: sse
    url: http://history-tools:3004/sse
`

func writeConfig(t *testing.T, body string) {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()
	t.Setenv("CONFIG_PATH", tmp.Name())
}

// TestLoad_Stdio verifies that Load correctly unmarshals stdio server configuration.
func TestLoad_Stdio(t *testing.T) {
	writeConfig(t, sampleStdioConfig)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.MCPServers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.MCPServers))
	}
	s := cfg.MCPServers[0]
	if s.Type != ClientTypeStdio {
		t.Fatalf("expected type stdio, got %s", s.Type)
	}
	if s.Command != "./mock" {
		t.Fatalf("unexpected command: %s", s.Command)
	}
	if len(s.Args) != 1 || s.Args[0] != "--flag" {
		t.Fatalf("unexpected args: %v", s.Args)
	}
	if v := s.Env["foo"]; v != "bar" {
		t.Fatalf("env not parsed: %v", s.Env)
	}
	if cfg.MCPServers[1].Type != ClientTypeSSE {
		t.Fatalf("expected sse, got %s", cfg.MCPServers[1].Type)
	}
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, "llm:\n  model: gpt-4o\n")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, BackendSQLite, cfg.History.Backend)
	require.Equal(t, 10, cfg.History.MaxLength)
	require.True(t, cfg.History.FallbackToMemory)
	require.Equal(t, 5, cfg.Agent.MaxTurns)
	require.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	require.Equal(t, "amazon.rerank-v1:0", cfg.Retrieval.RerankModelID)
	require.Equal(t, 5, cfg.Retrieval.InitialResults)
	require.Equal(t, 3, cfg.Retrieval.TopN)
	require.Equal(t, "3004", cfg.ToolServer.HistoryPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeConfig(t, "history:\n  backend: sqlite\n")
	t.Setenv("HISTORY_BACKEND", "memory")
	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("MAX_HISTORY_LENGTH", "25")
	t.Setenv("KNOWLEDGE_BASE_ID", "kb-123")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.History.Backend)
	require.Equal(t, "from-env", cfg.LLM.APIKey)
	require.Equal(t, 25, cfg.History.MaxLength)
	require.Equal(t, "kb-123", cfg.Retrieval.KnowledgeBaseID)
}

func TestLoad_LegacySamplingEnv(t *testing.T) {
	writeConfig(t, "llm:\n  model: gpt-4o\n  temperature: 0.7\n")
	t.Setenv("TEMPERATURE", "0")
	t.Setenv("MAX_TOKENS", "1500")
	t.Setenv("TOP_P", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Zero(t, cfg.LLM.Temperature)
	require.Equal(t, 1500, cfg.LLM.MaxTokens)
	require.InDelta(t, 0.5, cfg.LLM.TopP, 1e-6)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir()+"/nope.yaml")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Agent:     AgentConfig{MaxTurns: 5},
			History:   HistoryConfig{Backend: BackendMemory, MaxLength: 10},
			Retrieval: RetrievalConfig{InitialResults: 5, TopN: 3},
		}
	}

	cases := map[string]func(c *Config){
		"unknown backend":      func(c *Config) { c.History.Backend = "mongo" },
		"postgres without url": func(c *Config) { c.History.Backend = BackendPostgres },
		"zero max length":      func(c *Config) { c.History.MaxLength = 0 },
		"zero max turns":       func(c *Config) { c.Agent.MaxTurns = 0 },
		"sse without url": func(c *Config) {
			c.MCPServers = []MCPServerConfig{{Name: "x", Type: ClientTypeSSE}}
		},
		"missing type": func(c *Config) {
			c.MCPServers = []MCPServerConfig{{Name: "x", URL: "http://x"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}

	c := valid()
	require.NoError(t, c.Validate())
}
