package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-rag/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, config.HistoryConfig{Backend: config.BackendMemory})
		require.NoError(t, err)
		assert.Equal(t, KindEphemeral, s.Kind())
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, config.HistoryConfig{
			Backend:    config.BackendSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "h.db"),
			Table:      "conversations",
		})
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, KindDurable, s.Kind())
	})

	unreachable := config.HistoryConfig{
		Backend:        config.BackendPostgres,
		PostgresURL:    "postgres://u:p@127.0.0.1:1/db?sslmode=disable",
		Table:          "conversations",
		ConnectTimeout: 2 * time.Second,
	}

	t.Run("postgres fallback", func(t *testing.T) {
		cfg := unreachable
		cfg.FallbackToMemory = true
		s, err := Open(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, KindEphemeral, s.Kind())
	})

	t.Run("postgres without fallback", func(t *testing.T) {
		_, err := Open(ctx, unreachable)
		require.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(ctx, config.HistoryConfig{Backend: "mongo"})
		require.ErrorIs(t, err, config.ErrInvalid)
	})
}
