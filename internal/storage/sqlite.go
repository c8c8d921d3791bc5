// Package storage maintains the session index: one row per conversation
// session pointing at its trace file on disk.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SessionRow 会话索引中的一行
// SessionRow is one entry in the session index.
type SessionRow struct {
	ID         string
	Model      string
	TracePath  string
	EventCount int
	StartedAt  string
	EndedAt    string // empty while the session is live
}

// Index 会话索引接口
// Index is the session index persistence interface.
type Index interface {
	CreateSession(row SessionRow) error
	FinalizeSession(id string, eventCount int) error
	LoadSession(id string) (SessionRow, error)
	ListSessions() ([]SessionRow, error)
	Close() error
}

// SQLiteIndex 基于 SQLite (WAL 模式) 的会话索引
// SQLiteIndex implements Index using SQLite with WAL mode.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

// NewSQLiteIndex 创建并初始化 SQLite 数据库
// NewSQLiteIndex creates and initializes the SQLite database.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	idx := &SQLiteIndex{db: db, path: dbPath}
	if err := idx.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		model       TEXT NOT NULL DEFAULT '',
		trace_path  TEXT NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		ended_at    TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteIndex) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteIndex) CreateSession(row SessionRow) error {
	if strings.TrimSpace(row.ID) == "" {
		return fmt.Errorf("session id is empty")
	}
	if strings.TrimSpace(row.StartedAt) == "" {
		row.StartedAt = nowUTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, model, trace_path, event_count, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.Model, row.TracePath, row.EventCount, row.StartedAt, row.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) FinalizeSession(id string, eventCount int) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is empty")
	}
	res, err := s.db.Exec(`
		UPDATE sessions SET event_count=?, ended_at=? WHERE id=?`,
		eventCount, nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (s *SQLiteIndex) LoadSession(id string) (SessionRow, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionRow{}, fmt.Errorf("session id is empty")
	}
	row := s.db.QueryRow(`
		SELECT id, model, trace_path, event_count, started_at, ended_at
		FROM sessions WHERE id=?`, id)

	var out SessionRow
	err := row.Scan(&out.ID, &out.Model, &out.TracePath, &out.EventCount, &out.StartedAt, &out.EndedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return SessionRow{}, fmt.Errorf("session not found: %s", id)
		}
		return SessionRow{}, fmt.Errorf("load session: %w", err)
	}
	return out, nil
}

func (s *SQLiteIndex) ListSessions() ([]SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, model, trace_path, event_count, started_at, ended_at
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.ID, &r.Model, &r.TracePath, &r.EventCount, &r.StartedAt, &r.EndedAt); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
