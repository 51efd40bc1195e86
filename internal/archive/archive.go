// Package archive persists redacted raw chat items and rendered transcript
// lines per session to SQLite.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
)

// Category distinguishes the plain-chat transcript from the paid one.
type Category string

const (
	CategoryChat Category = "chat"
	CategoryPaid Category = "paid"
)

const schema = `CREATE TABLE IF NOT EXISTS raw_items (
  session_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  ts TEXT NOT NULL,
  item_json TEXT NOT NULL,
  PRIMARY KEY (session_id, item_id)
);
CREATE TABLE IF NOT EXISTS rendered_lines (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  category TEXT NOT NULL,
  ts TEXT NOT NULL,
  line TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS rendered_lines_session ON rendered_lines (session_id, category);`

// Store is the SQLite-backed archive sink.
type Store struct {
	db *sql.DB
}

const defaultListLimit = 100

// openPragmas are applied on every connection before the schema: WAL keeps
// transcript reads from blocking the poller's appends, and the busy timeout
// makes concurrent writers wait instead of erroring.
var openPragmas = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA temp_store=MEMORY;`,
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	for _, pragma := range openPragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply %s", strings.TrimSuffix(pragma, ";"))
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) String() string { return fmt.Sprintf("archive.Store{%p}", s.db) }

// AppendRawItem stores one redacted raw item. Duplicate item ids within a
// session are dropped silently; replays can re-deliver the same item.
func (s *Store) AppendRawItem(sessionID, itemID string, itemJSON []byte) error {
	const q = `INSERT INTO raw_items (session_id, item_id, ts, item_json)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id, item_id) DO NOTHING;`
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(q, sessionID, itemID, ts, string(itemJSON))
	return errors.Wrap(err, "insert raw item")
}

// AppendRenderedLine stores one transcript line under a category.
func (s *Store) AppendRenderedLine(sessionID string, cat Category, line string) error {
	const q = `INSERT INTO rendered_lines (session_id, category, ts, line) VALUES (?, ?, ?, ?);`
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(q, sessionID, string(cat), ts, line)
	return errors.Wrap(err, "insert rendered line")
}

// Line is one archived transcript line.
type Line struct {
	SessionID string    `json:"sessionId"`
	Category  Category  `json:"category"`
	Ts        time.Time `json:"ts"`
	Line      string    `json:"line"`
}

// Filters narrows transcript queries.
type Filters struct {
	SessionID string
	Category  Category
	Since     *time.Time
	Limit     int
}

func (s *Store) CountRawItems(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_items WHERE session_id = ?;`, sessionID).Scan(&n)
	return n, errors.Wrap(err, "count raw items")
}

func (s *Store) ListRenderedLines(ctx context.Context, filters Filters) ([]Line, error) {
	query, args := buildLineQuery(filters)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list lines")
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var (
			l  Line
			ts string
		)
		if err := rows.Scan(&l.SessionID, (*string)(&l.Category), &ts, &l.Line); err != nil {
			return nil, errors.Wrap(err, "scan line")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			l.Ts = t
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate lines")
	}
	return out, nil
}

func buildLineQuery(filters Filters) (string, []any) {
	var builder strings.Builder
	builder.WriteString("SELECT session_id, category, ts, line FROM rendered_lines")

	var (
		conditions []string
		args       []any
	)
	if filters.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filters.SessionID)
	}
	if filters.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(filters.Category))
	}
	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	builder.WriteString(" ORDER BY seq DESC LIMIT ?;")
	args = append(args, limit)
	return builder.String(), args
}
