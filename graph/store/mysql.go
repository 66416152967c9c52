package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, intended for production
// workflows that need to survive process restarts and be inspected by
// more than one worker.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params]
// e.g. "user:pass@tcp(127.0.0.1:3306)/graphkit?parseTime=true".
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn and ensures the
// checkpoints table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id            BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id     VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			run_id        VARCHAR(255) NOT NULL,
			step          INT NOT NULL,
			state         JSON NOT NULL,
			node_id       VARCHAR(255) NOT NULL DEFAULT '',
			next_node_id  VARCHAR(255) NOT NULL DEFAULT '',
			pending       BOOLEAN NOT NULL DEFAULT FALSE,
			metadata      JSON NOT NULL,
			created_at    TIMESTAMP(6) NOT NULL,
			UNIQUE KEY unique_thread_checkpoint (thread_id, checkpoint_id),
			INDEX idx_thread (thread_id, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("mysql store is closed")
	}
	return nil
}

func (s *MySQLStore) Put(ctx context.Context, threadID string, cp Checkpoint) (string, error) {
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
	`, threadID, cp.ID, cp.RunID, cp.Step, string(stateJSON), cp.NodeID, cp.NextNodeID, cp.Pending, string(metaJSON), cp.Timestamp)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return cp.ID, nil
}

func (s *MySQLStore) Get(ctx context.Context, threadID, id string) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	var row *sql.Row
	if id == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at
			FROM checkpoints WHERE thread_id = ? ORDER BY id DESC LIMIT 1
		`, threadID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at
			FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?
		`, threadID, id)
	}

	var (
		cp        Checkpoint
		stateJSON string
		metaJSON  string
	)
	err := row.Scan(&cp.ID, &cp.RunID, &cp.Step, &stateJSON, &cp.NodeID, &cp.NextNodeID, &cp.Pending, &metaJSON, &cp.Timestamp)
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
	return cp, nil
}

func (s *MySQLStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, run_id, step, state, node_id, next_node_id, pending, metadata, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY id ASC
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
		)
		if err := rows.Scan(&cp.ID, &cp.RunID, &cp.Step, &stateJSON, &cp.NodeID, &cp.NextNodeID, &cp.Pending, &metaJSON, &cp.Timestamp); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return out, nil
}

func (s *MySQLStore) Delete(ctx context.Context, threadID, id string) error {
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

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
