// Package kvstore is the string-keyed local persistence layer. It plays the
// role browser local storage plays for the web client: flat key/value pairs,
// tolerant of loss.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deskmate/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store is a sqlite-backed key/value table.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path. ":memory:" keeps it in RAM.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("kv store path must be set")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("prepare kv store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsnFor(path))
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	if memory {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		recovered, err := checkAndRecover(db, path)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("kv store recovery failed: %w", err)
		}
		if recovered != nil {
			db = recovered
		}
	}

	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func dsnFor(path string) string {
	if path == ":memory:" {
		return "file::memory:"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
}

// checkAndRecover returns a fresh connection when the file exists but is
// unreadable, nil when the existing connection is fine. Losing local state is
// acceptable; refusing to start is not.
func checkAndRecover(db *sql.DB, path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.Size() > 0 {
		var result string
		if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err == nil && result == "ok" {
			return nil, nil
		} else {
			logging.ErrorLog("kv store %s failed integrity check (%v %s), recreating", path, err, result)
		}
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close corrupted kv store: %w", err)
	}
	os.Remove(path)
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	fresh, err := sql.Open("sqlite", dsnFor(path))
	if err != nil {
		return nil, fmt.Errorf("reopen kv store: %w", err)
	}
	return fresh, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path reports where the store lives.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(context.Background(), `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// GetDefault returns the stored value or fallback when missing or unreadable.
func (s *Store) GetDefault(key, fallback string) string {
	value, err := s.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.ErrorLog("kv read %s: %v", key, err)
		}
		return fallback
	}
	return value
}

// Set upserts key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.ExecContext(context.Background(), `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix in lexical order.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetJSON decodes the value at key into v.
func (s *Store) GetJSON(key string, v any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// Namespaced prefixes every key, keeping unrelated callers apart.
func Namespaced(ns string, key ...string) string {
	return ns + "." + strings.Join(key, ".")
}
