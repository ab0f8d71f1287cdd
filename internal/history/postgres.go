package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores records in a Postgres table with a GIN full-text
// index over message content.
type PostgresBackend struct {
	db    *pgxpool.Pool
	table string
}

// OpenPostgres connects, pings and prepares the schema.
func OpenPostgres(ctx context.Context, url, table string) (*PostgresBackend, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	b := &PostgresBackend{db: pool, table: table}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	t := b.table
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT,
			type TEXT,
			content TEXT,
			created_at TIMESTAMPTZ
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_conversation_idx ON %s (conversation_id, created_at)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_content_fts_idx ON %s USING GIN (to_tsvector('english', coalesce(content, '')))`, t, t),
	}
	for _, s := range stmts {
		if _, err := b.db.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres schema: %w", describe(err))
		}
	}
	return nil
}

// Insert writes one record.
func (b *PostgresBackend) Insert(ctx context.Context, r Record) error {
	_, err := b.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (conversation_id, role, type, content, created_at) VALUES ($1, $2, $3, $4, $5)`, b.table),
		r.ConversationID, r.Role, r.Type, r.Content, r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", describe(err))
	}
	return nil
}

const pgColumns = `conversation_id, role, type, content, created_at`

// Query returns one conversation ordered by timestamp, ties by id.
func (b *PostgresBackend) Query(ctx context.Context, conversationID string, q Query) ([]Record, error) {
	dir := "ASC"
	if q.Newest {
		dir = "DESC"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM %s WHERE conversation_id = $1
		ORDER BY coalesce(created_at, 'epoch'::timestamptz) %s, id %s`, pgColumns, b.table, dir, dir)
	args := []any{conversationID}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Skip > 0 {
		args = append(args, q.Skip)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := b.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", describe(err))
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ConversationID, &r.Role, &r.Type, &r.Content, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, utc(r))
	}
	return out, rows.Err()
}

// DeleteConversation removes every row of a conversation.
func (b *PostgresBackend) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	tag, err := b.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1`, b.table), conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", describe(err))
	}
	return tag.RowsAffected(), nil
}

// Summaries picks the newest row of each conversation with its row count.
func (b *PostgresBackend) Summaries(ctx context.Context, limit int) ([]SummaryRecord, error) {
	rows, err := b.db.Query(ctx, fmt.Sprintf(`
		SELECT %s, n FROM (
			SELECT %s,
				ROW_NUMBER() OVER (PARTITION BY conversation_id ORDER BY coalesce(created_at, 'epoch'::timestamptz) DESC, id DESC) AS rn,
				COUNT(*) OVER (PARTITION BY conversation_id) AS n
			FROM %s
		) latest
		WHERE rn = 1
		ORDER BY coalesce(created_at, 'epoch'::timestamptz) DESC
		LIMIT $1`, pgColumns, pgColumns, b.table), limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", describe(err))
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var s SummaryRecord
		r := &s.Latest
		if err := rows.Scan(&r.ConversationID, &r.Role, &r.Type, &r.Content, &r.Timestamp, &s.Count); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.Latest = utc(s.Latest)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Search matches any query term, ranked by ts_rank.
func (b *PostgresBackend) Search(ctx context.Context, text string, limit int) ([]ScoredRecord, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := b.db.Query(ctx, fmt.Sprintf(`
		SELECT %s, ts_rank(to_tsvector('english', coalesce(content, '')), q) AS score
		FROM %s, to_tsquery('english', $1) q
		WHERE to_tsvector('english', coalesce(content, '')) @@ q
		ORDER BY score DESC, id
		LIMIT $2`, pgColumns, b.table), strings.Join(terms, " | "), limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", describe(err))
	}
	defer rows.Close()

	var out []ScoredRecord
	for rows.Next() {
		var (
			s     ScoredRecord
			score float32
		)
		if err := rows.Scan(&s.ConversationID, &s.Role, &s.Type, &s.Content, &s.Timestamp, &score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		s.Record = utc(s.Record)
		s.Score = float64(score)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	b.db.Close()
	return nil
}

func utc(r Record) Record {
	if r.Timestamp != nil {
		ts := r.Timestamp.UTC()
		r.Timestamp = &ts
	}
	return r
}

// describe folds Postgres error details into the message.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w (code=%s detail=%s)", err, pgErr.Code, pgErr.Detail)
	}
	return err
}
