// Package pgstore is a Postgres-backed implementation of store.KV, an
// alternate backing store for the byte-addressable contract (spec.md §1 OUT
// OF SCOPE database). It exists to exercise lib/pq the way the rest of the
// domain stack exercises its own concerns; the default deployment uses
// store.Memory, and pgstore is opt-in via internal/config.
package pgstore

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store is a single-table KV store: one row per key, value stored as bytea.
type Store struct {
	db    *sql.DB
	table string
}

// Open connects to dsn and ensures the backing table exists.
func Open(dsn, table string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := &Store{db: db, table: table}
	if err := s.ensureTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable() error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (key text PRIMARY KEY, value bytea NOT NULL)`, s.table)
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("pgstore: ensure table: %w", err)
	}
	return nil
}

func (s *Store) Put(key string, value []byte) error {
	q := fmt.Sprintf(`INSERT INTO %q (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.table)
	if _, err := s.db.Exec(q, key, value); err != nil {
		return fmt.Errorf("pgstore: put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	q := fmt.Sprintf(`SELECT value FROM %q WHERE key = $1`, s.table)
	var value []byte
	err := s.db.QueryRow(q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Range(prefix string) (map[string][]byte, error) {
	q := fmt.Sprintf(`SELECT key, value FROM %q WHERE key LIKE $1`, s.table)
	rows, err := s.db.Query(q, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("pgstore: range %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("pgstore: scan row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
