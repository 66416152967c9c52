package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
//
// Designed for:
//   - Development and testing with zero setup
//   - Single-process workflows
//   - Prototyping before migrating to a distributed store
//
// It uses WAL mode for concurrent reads and a single-writer connection
// pool, matching the teacher's SQLiteStore configuration.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists. Pass ":memory:" for an ephemeral,
// process-local database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id   TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			run_id      TEXT NOT NULL,
			step        INTEGER NOT NULL,
			state       TEXT NOT NULL,
			node_id     TEXT NOT NULL DEFAULT '',
			next_node_id TEXT NOT NULL DEFAULT '',
			pending     INTEGER NOT NULL DEFAULT 0,
			metadata    TEXT NOT NULL DEFAULT '{}',
			created_at  TIMESTAMP NOT NULL,
			UNIQUE(thread_id, checkpoint_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, rowid)"); err != nil {
		return fmt.Errorf("create idx_checkpoints_thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sqlite store is closed")
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, threadID string, cp Checkpoint) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("%s-%d", threadID, cp.Timestamp.UnixNano())
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	metaJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, threadID, cp.ID, cp.RunID, cp.Step, string(stateJSON), cp.NodeID, cp.NextNodeID, cp.Pending, string(metaJSON), cp.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return cp.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, threadID, id string) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	var row *sql.Row
	if id == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at
			FROM checkpoints WHERE thread_id = ? ORDER BY rowid DESC LIMIT 1
		`, threadID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at
			FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?
		`, threadID, id)
	}
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (Checkpoint, error) {
	var (
		cp        Checkpoint
		stateJSON string
		metaJSON  string
		createdAt string
	)
	err := row.Scan(&cp.ID, &cp.RunID, &cp.Step, &stateJSON, &cp.NodeID, &cp.NextNodeID, &cp.Pending, &metaJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
		return Checkpoint{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	cp.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY rowid ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		var (
			cp        Checkpoint
			stateJSON string
			metaJSON  string
			createdAt string
		)
		if err := rows.Scan(&cp.ID, &cp.RunID, &cp.Step, &stateJSON, &cp.NodeID, &cp.NextNodeID, &cp.Pending, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		cp.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`, threadID, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the underlying database connection. Calling Close
// multiple times is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
