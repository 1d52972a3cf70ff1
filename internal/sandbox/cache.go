// Package sandbox compiles generated Lua source into portable modules and
// executes them in isolated runtimes with bounded call budgets. The sandbox
// boundary is the security perimeter: no module gets ambient access to host
// files, network, clock or randomness.
package sandbox

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a content-addressed byte store for compiled modules, keyed by
// (FlowIR hash, generator+toolchain version). A key mismatch means rebuild.
type Store interface {
	Get(hash, version string) ([]byte, bool, error)
	Put(hash, version string, module []byte) error
	Close() error
}

// memStore is the in-process store used when no cache path is configured.
type memStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemStore returns an in-memory module store.
func NewMemStore() Store {
	return &memStore{m: make(map[string][]byte)}
}

func storeKey(hash, version string) string { return hash + "\x00" + version }

func (s *memStore) Get(hash, version string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[storeKey(hash, version)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func (s *memStore) Put(hash, version string, module []byte) error {
	cp := make([]byte, len(module))
	copy(cp, module)
	s.mu.Lock()
	s.m[storeKey(hash, version)] = cp
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

// sqliteStore persists modules across processes in a local SQLite file.
type sqliteStore struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS modules (
	hash    TEXT NOT NULL,
	version TEXT NOT NULL,
	module  BLOB NOT NULL,
	PRIMARY KEY (hash, version)
);`

// OpenSQLiteStore creates or opens the module cache database at path.
// SQLite allows one writer at a time, so the pool is pinned to a single
// connection.
func OpenSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("module cache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("module cache: pragmas: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("module cache: schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(hash, version string) ([]byte, bool, error) {
	var module []byte
	err := s.db.QueryRow(
		`SELECT module FROM modules WHERE hash = ? AND version = ?`,
		hash, version,
	).Scan(&module)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("module cache: get: %w", err)
	}
	return module, true, nil
}

func (s *sqliteStore) Put(hash, version string, module []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO modules (hash, version, module) VALUES (?, ?, ?)`,
		hash, version, module,
	)
	if err != nil {
		return fmt.Errorf("module cache: put: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
