package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding turn history
type DB struct {
	*sql.DB
}

// Open creates or opens the database at dbPath, initialises the schema and
// configures WAL mode.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			root TEXT NOT NULL,
			prompt TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			diff TEXT NOT NULL DEFAULT '',
			commit_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_root_started ON turns(root, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Turn statuses
const (
	StatusOK          = "ok"
	StatusStreamError = "stream_error"
	StatusError       = "error"
)

// Turn is one recorded assistant turn
type Turn struct {
	ID          int64
	SessionID   string
	Root        string
	Prompt      string
	Output      string
	Description string
	Diff        string
	Commit      string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RecordTurn inserts a turn and returns its id
func (db *DB) RecordTurn(ctx context.Context, t Turn) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO turns (session_id, root, prompt, output, description, diff, commit_hash, status, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Root, t.Prompt, t.Output, t.Description, t.Diff, t.Commit, t.Status,
		t.StartedAt.UnixMilli(), t.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return res.LastInsertId()
}

// RecentPrompts returns up to limit distinct prompts for root, newest first
func (db *DB) RecentPrompts(ctx context.Context, root string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT prompt FROM turns WHERE root = ?
		 GROUP BY prompt ORDER BY MAX(id) DESC LIMIT ?`,
		root, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SessionTurns returns the turns of one session in order
func (db *DB) SessionTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, session_id, root, prompt, output, description, diff, commit_hash, status, started_at, finished_at
		 FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var started, finished int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Root, &t.Prompt, &t.Output, &t.Description,
			&t.Diff, &t.Commit, &t.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.StartedAt = time.UnixMilli(started)
		t.FinishedAt = time.UnixMilli(finished)
		out = append(out, t)
	}
	return out, rows.Err()
}
