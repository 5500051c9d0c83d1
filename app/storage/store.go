// Package storage implements the sqlite-backed record store: per-user
// conversation contexts with a bounded turn window, the domain record
// tables owned by the builtin extensions, and the generic read-query
// primitive consumed by the query safety gate.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"lifelog/app/config"

	"github.com/samber/do"
	"github.com/samber/oops"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_contexts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT    NOT NULL UNIQUE,
	intent     TEXT    NOT NULL DEFAULT '',
	domain     TEXT    NOT NULL DEFAULT '',
	state      TEXT    NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT    NOT NULL,
	user_input TEXT    NOT NULL,
	intent     TEXT    NOT NULL DEFAULT '',
	domain     TEXT    NOT NULL DEFAULT '',
	response   TEXT    NOT NULL DEFAULT '',
	metadata   TEXT    NOT NULL DEFAULT '{}',
	timestamp  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_user_time
	ON conversation_turns(user_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS finance_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT    NOT NULL,
	record_type TEXT    NOT NULL DEFAULT 'expense',
	amount      REAL    NOT NULL,
	category    TEXT    NOT NULL DEFAULT '',
	note        TEXT    NOT NULL DEFAULT '',
	record_date TEXT    NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_finance_user_date
	ON finance_records(user_id, record_date);

CREATE TABLE IF NOT EXISTS work_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT    NOT NULL,
	hours       REAL    NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	work_date   TEXT    NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_user_date
	ON work_records(user_id, work_date);
`

type Store struct {
	db *sql.DB
}

func New(di *do.Injector) (*Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return Open(cfg.DB.Path)
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, oops.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, oops.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, oops.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Acquire reserves a dedicated connection for the duration of one
// request. Sessions are never shared across workers, the caller must
// Close on every exit path.
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, oops.Errorf("failed to acquire connection: %w", err)
	}

	return &Session{conn: conn}, nil
}

func (s *Store) Shutdown() error {
	return s.db.Close()
}

// Session is a single-request view of the store backed by one
// database connection.
type Session struct {
	conn *sql.Conn
}

func (sess *Session) Close() error {
	return sess.conn.Close()
}

// QueryRows runs a read query and returns rows as field-name/value
// mappings plus the column names in SELECT order, so renderers keep
// the order the query asked for. Only the query safety gate calls
// this.
func (sess *Session) QueryRows(ctx context.Context, query string) ([]map[string]any, []string, error) {
	rows, err := sess.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, oops.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, oops.Errorf("failed to read columns: %w", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err = rows.Scan(pointers...); err != nil {
			return nil, nil, oops.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}

		result = append(result, row)
	}

	if err = rows.Err(); err != nil {
		return nil, nil, oops.Errorf("row iteration failed: %w", err)
	}

	return result, columns, nil
}
