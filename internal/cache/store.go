// Package cache implements the tiered response store behind the fetch
// gateway. Entries are partitioned into named generations (static shell vs
// dynamic runtime); activation purges every generation not on the allow-list
// in one statement, so no stale generation survives.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Coolhgg/alarmd/common"
)

// ErrMiss is returned when no entry exists for a URL.
var ErrMiss = errors.New("cache: miss")

// Entry is one cached response. Concurrent writes to the same (generation,
// url) key are last-write-wins.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store is the SQLite-backed cache generation store. Safe for concurrent use;
// the underlying *sql.DB serializes access.
type Store struct {
	db *sql.DB

	// precacheFailures counts shell assets that failed to populate at
	// install time. Surfaced through Stats, never fails startup.
	precacheFailures atomic.Int64
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	generation TEXT    NOT NULL,
	url        TEXT    NOT NULL,
	status     INTEGER NOT NULL,
	headers    TEXT    NOT NULL,
	body       BLOB    NOT NULL,
	stored_at  INTEGER NOT NULL,
	PRIMARY KEY (generation, url)
);
`

// Open opens (creating if needed) the store at path. The parent directory is
// created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores an entry under the given generation, replacing any previous
// entry for the same URL.
func (s *Store) Put(generation string, e Entry) error {
	hdr, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("cache: encode headers: %w", err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = s.db.Exec(
		`INSERT INTO entries (generation, url, status, headers, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation, url) DO UPDATE SET
		     status = excluded.status,
		     headers = excluded.headers,
		     body = excluded.body,
		     stored_at = excluded.stored_at`,
		generation, e.URL, e.Status, string(hdr), e.Body, storedAt.Unix())
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", e.URL, err)
	}
	return nil
}

// Get returns the entry for url in exactly the given generation, or ErrMiss.
func (s *Store) Get(generation, url string) (*Entry, error) {
	return s.scanOne(
		`SELECT url, status, headers, body, stored_at FROM entries
		 WHERE generation = ? AND url = ?`, generation, url)
}

// Match returns the entry for url from the first generation in order that
// holds one, or ErrMiss. Callers pass the allow-list so the static shell
// wins over dynamic copies.
func (s *Store) Match(url string, generations ...string) (*Entry, string, error) {
	for _, gen := range generations {
		e, err := s.Get(gen, url)
		if err == nil {
			return e, gen, nil
		}
		if !errors.Is(err, ErrMiss) {
			return nil, "", err
		}
	}
	return nil, "", ErrMiss
}

func (s *Store) scanOne(query string, args ...any) (*Entry, error) {
	var (
		e        Entry
		hdr      string
		storedAt int64
	)
	err := s.db.QueryRow(query, args...).Scan(&e.URL, &e.Status, &hdr, &e.Body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	if err := json.Unmarshal([]byte(hdr), &e.Header); err != nil {
		return nil, fmt.Errorf("cache: decode headers: %w", err)
	}
	e.StoredAt = time.Unix(storedAt, 0)
	return &e, nil
}

// Generations lists every generation currently present in the store.
func (s *Store) Generations() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT generation FROM entries ORDER BY generation`)
	if err != nil {
		return nil, fmt.Errorf("cache: list generations: %w", err)
	}
	defer rows.Close()
	var gens []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("cache: scan generation: %w", err)
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}

// PurgeExcept deletes every generation not in allow, atomically. After it
// returns, the set of existing generations is a subset of allow.
func (s *Store) PurgeExcept(allow []string) error {
	if len(allow) == 0 {
		return s.ClearAll()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(allow)), ",")
	args := make([]any, len(allow))
	for i, g := range allow {
		args[i] = g
	}
	_, err := s.db.Exec(
		`DELETE FROM entries WHERE generation NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("cache: purge: %w", err)
	}
	return nil
}

// ClearAll drops every generation.
func (s *Store) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// AddPrecacheFailure records one failed shell-asset population.
func (s *Store) AddPrecacheFailure() {
	s.precacheFailures.Add(1)
}

// Stats summarizes the store for probe replies. Count errors degrade to
// zeroes rather than failing the probe.
func (s *Store) Stats() common.CacheStats {
	return common.CacheStats{
		Static:           s.count(common.StaticCacheName),
		Dynamic:          s.count(common.DynamicCacheName),
		PrecacheFailures: int(s.precacheFailures.Load()),
	}
}

func (s *Store) count(generation string) int {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM entries WHERE generation = ?`, generation).Scan(&n); err != nil {
		return 0
	}
	return n
}
