package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// Corrupt records are treated as absent instead of failing the query.
func unmarshalJSON(data string, v any, key string) bool {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal stored value",
			"key", key,
			"error", err.Error(),
			"dataLen", len(data))
		return false
	}
	return true
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), time.Now().UTC())
	return err
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// SaveContract stores a contract record under the given key.
func (s *SQLiteStore) SaveContract(ctx context.Context, key string, contract *types.ContractRecord) error {
	return s.set(ctx, key, contract)
}

// GetContract returns the contract record for key, or nil when absent.
func (s *SQLiteStore) GetContract(ctx context.Context, key string) (*types.ContractRecord, error) {
	value, err := s.get(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}
	var contract types.ContractRecord
	if !unmarshalJSON(value, &contract, key) {
		return nil, nil
	}
	return &contract, nil
}

// SaveSession stores a session binding under the given key.
func (s *SQLiteStore) SaveSession(ctx context.Context, key string, session *types.ChatSession) error {
	return s.set(ctx, key, session)
}

// GetSession returns the session binding for key, or nil when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*types.ChatSession, error) {
	value, err := s.get(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}
	var session types.ChatSession
	if !unmarshalJSON(value, &session, key) {
		return nil, nil
	}
	return &session, nil
}

// ListSessions returns all stored session bindings keyed by storage key.
func (s *SQLiteStore) ListSessions(ctx context.Context) (map[string]*types.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key LIKE ?", SessionKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]*types.ChatSession)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var session types.ChatSession
		if unmarshalJSON(value, &session, key) {
			sessions[key] = &session
		}
	}
	return sessions, rows.Err()
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// Keys returns all keys with the given prefix.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
