package history

import (
	"context"
	"fmt"

	"github.com/comigor/jarvis-rag/internal/config"
	"github.com/comigor/jarvis-rag/internal/logger"
)

var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Backend = (*PostgresBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)

// Open builds the store selected by cfg.Backend. When the database cannot
// be reached and FallbackToMemory is set, an ephemeral store is returned
// instead and the failure is logged.
func Open(ctx context.Context, cfg config.HistoryConfig) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		logger.L.Info("using in-memory history")
		return NewStore(NewMemoryBackend(), KindEphemeral), nil
	case config.BackendSQLite:
		b, err = OpenSQLite(ctx, cfg.SQLitePath, cfg.Table)
	case config.BackendPostgres:
		cctx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		b, err = OpenPostgres(cctx, cfg.PostgresURL, cfg.Table)
	default:
		return nil, fmt.Errorf("%w: unknown history backend %q", config.ErrInvalid, cfg.Backend)
	}

	if err != nil {
		if !cfg.FallbackToMemory {
			return nil, fmt.Errorf("open %s history: %w", cfg.Backend, err)
		}
		logger.L.Warn("history database unavailable; using in-memory history", "backend", cfg.Backend, "error", err)
		return NewStore(NewMemoryBackend(), KindEphemeral), nil
	}
	logger.L.Info("history database initialized", "backend", cfg.Backend, "table", cfg.Table)
	return NewStore(b, KindDurable), nil
}
