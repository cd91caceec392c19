// Package store implements the persistent storage consumed contract of
// spec.md §6: two operations, Dump(name, version, bytes) and
// Fetch(name) (version, bytes), used to persist relay cumulative
// runtime, cycle counts and last-state across a warm restart. A version
// mismatch on read is the caller's signal to discard the blob rather
// than trust stale state.
//
// Grounded on the teacher's db/db.go for the sqlite open/seed-if-missing
// shape and db/queries.go for the parameterized-query style, adapted
// from the teacher's relational zone/device schema down to a single
// generic blob table since spec.md's consumed contract only ever needs
// name -> (version, bytes), never structured queries.
package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	name    TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	data    BLOB NOT NULL
);`

// ErrNotFound is returned by Fetch when nothing has ever been dumped
// under that name.
var ErrNotFound = fmt.Errorf("store: blob not found")

// Store is a sqlite-backed implementation of spec.md §6's persistent
// storage contract.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its schema) if missing, then
// returns a Store backed by it. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("failed to create store file: %w", err)
			}
			f.Close()
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Dump writes (or overwrites) the blob stored under name.
func (s *Store) Dump(name string, version int, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO blobs (name, version, data) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version = excluded.version, data = excluded.data`,
		name, version, data,
	)
	if err != nil {
		return fmt.Errorf("failed to dump blob %s: %w", name, err)
	}
	return nil
}

// Fetch retrieves the blob stored under name. ErrNotFound is returned if
// nothing has been dumped under that name yet; callers that get back a
// version they don't recognize should treat the blob as invalid rather
// than unmarshal it.
func (s *Store) Fetch(name string) (version int, data []byte, err error) {
	err = s.db.QueryRow(`SELECT version, data FROM blobs WHERE name = ?`, name).Scan(&version, &data)
	if err == sql.ErrNoRows {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch blob %s: %w", name, err)
	}
	return version, data, nil
}
