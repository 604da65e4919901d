package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
)

const (
	keySessions  = "chat_sessions"
	keyCurrentID = "current_session_id"
)

// SQLiteStore keeps the two state keys in a small key-value table.
// Suits desktop targets that want durability across crashes without a
// server dependency.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS chat_state (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM chat_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) LoadState(ctx context.Context) (*State, error) {
	raw, ok, err := s.get(ctx, keySessions)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load sessions: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var sessions []chat.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("sqlite store: decode sessions: %w", err)
	}
	currentID, _, err := s.get(ctx, keyCurrentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load current session: %w", err)
	}
	return &State{Sessions: sessions, CurrentSessionID: currentID}, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state.Sessions)
	if err != nil {
		return fmt.Errorf("sqlite store: encode sessions: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	const upsert = `INSERT INTO chat_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, keySessions, string(raw), now); err != nil {
		return fmt.Errorf("sqlite store: save sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, keyCurrentID, state.CurrentSessionID, now); err != nil {
		return fmt.Errorf("sqlite store: save current session: %w", err)
	}
	return tx.Commit()
}
