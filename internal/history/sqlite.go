package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteBackend stores records in a SQLite file with an FTS5 index over
// message content.
type SQLiteBackend struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path, table string) (*SQLiteBackend, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps insertion order and avoids SQLITE_BUSY between pooled conns.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, table: table}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	t := b.table
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT,
			type TEXT,
			content TEXT,
			created_at INTEGER
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_conversation_idx ON %s (conversation_id, created_at)`, t, t),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s_fts USING fts5(content, content='%s', content_rowid='id')`, t, t),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ai AFTER INSERT ON %s BEGIN
			INSERT INTO %s_fts(rowid, content) VALUES (new.id, coalesce(new.content, ''));
		END`, t, t, t),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ad AFTER DELETE ON %s BEGIN
			INSERT INTO %s_fts(%s_fts, rowid, content) VALUES ('delete', old.id, coalesce(old.content, ''));
		END`, t, t, t, t),
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// Insert writes one record.
func (b *SQLiteBackend) Insert(ctx context.Context, r Record) error {
	var ts any
	if r.Timestamp != nil {
		ts = r.Timestamp.UnixNano()
	}
	_, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (conversation_id, role, type, content, created_at) VALUES (?, ?, ?, ?, ?)`, b.table),
		r.ConversationID, deref(r.Role), deref(r.Type), deref(r.Content), ts)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const sqliteColumns = `conversation_id, role, type, content, created_at`

// Query returns one conversation ordered by timestamp, ties by row id.
func (b *SQLiteBackend) Query(ctx context.Context, conversationID string, q Query) ([]Record, error) {
	dir := "ASC"
	if q.Newest {
		dir = "DESC"
	}
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE conversation_id = ?
			ORDER BY coalesce(created_at, 0) %s, id %s LIMIT ? OFFSET ?`, sqliteColumns, b.table, dir, dir),
		conversationID, limit, q.Skip)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteConversation removes every row of a conversation.
func (b *SQLiteBackend) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = ?`, b.table), conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	return res.RowsAffected()
}

// Summaries picks the newest row of each conversation with its row count.
func (b *SQLiteBackend) Summaries(ctx context.Context, limit int) ([]SummaryRecord, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, n FROM (
			SELECT %s,
				ROW_NUMBER() OVER (PARTITION BY conversation_id ORDER BY coalesce(created_at, 0) DESC, id DESC) AS rn,
				COUNT(*) OVER (PARTITION BY conversation_id) AS n
			FROM %s
		) WHERE rn = 1
		ORDER BY coalesce(created_at, 0) DESC
		LIMIT ?`, sqliteColumns, sqliteColumns, b.table), limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var (
			s                  SummaryRecord
			role, typ, content sql.NullString
			created            sql.NullInt64
		)
		if err := rows.Scan(&s.Latest.ConversationID, &role, &typ, &content, &created, &s.Count); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		fillRecord(&s.Latest, role, typ, content, created)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Search matches any query term against the FTS index, best bm25 first.
func (b *SQLiteBackend) Search(ctx context.Context, text string, limit int) ([]ScoredRecord, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	fts := b.table + "_fts"
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.conversation_id, m.role, m.type, m.content, m.created_at, bm25(%s) AS score
		FROM %s JOIN %s m ON m.id = %s.rowid
		WHERE %s MATCH ?
		ORDER BY score, m.id
		LIMIT ?`, fts, fts, b.table, fts, fts), strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var out []ScoredRecord
	for rows.Next() {
		var (
			s                  ScoredRecord
			role, typ, content sql.NullString
			created            sql.NullInt64
		)
		if err := rows.Scan(&s.ConversationID, &role, &typ, &content, &created, &s.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		fillRecord(&s.Record, role, typ, content, created)
		// bm25 is lower-is-better
		s.Score = -s.Score
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func scanSQLite(rows *sql.Rows) (Record, error) {
	var (
		r                  Record
		role, typ, content sql.NullString
		created            sql.NullInt64
	)
	if err := rows.Scan(&r.ConversationID, &role, &typ, &content, &created); err != nil {
		return Record{}, fmt.Errorf("scan message: %w", err)
	}
	fillRecord(&r, role, typ, content, created)
	return r, nil
}

func fillRecord(r *Record, role, typ, content sql.NullString, created sql.NullInt64) {
	r.Role = nullString(role)
	r.Type = nullString(typ)
	r.Content = nullString(content)
	if created.Valid {
		ts := time.Unix(0, created.Int64).UTC()
		r.Timestamp = &ts
	}
}

func deref(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
