package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/xid"

	"github.com/always-cache/forward-proxy/pkg/target"
)

// SQLiteCache stores entries in a SQLite table.
// It follows the same locking discipline as MemCache: lookups share a read lock,
// while the recency bump, inserts (with their eviction loop) and renumbering are exclusive.
type SQLiteCache struct {
	db      *sql.DB
	mutex   sync.RWMutex
	limits  Limits
	used    int
	entries int
	clock   int64
	counters
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new private in-memory db is opened.
func NewSQLiteCache(filename string, limits Limits) (*SQLiteCache, error) {
	if filename == "" {
		filename = fmt.Sprintf("file:%s?mode=memory&cache=shared", xid.New().String())
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	// a single connection keeps an in-memory db alive and serializes statements
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			hostname TEXT NOT NULL,
			port TEXT NOT NULL,
			path TEXT NOT NULL,
			recency INTEGER NOT NULL,
			size INTEGER NOT NULL,
			content BLOB NOT NULL,
			PRIMARY KEY (hostname, port, path)
		)`,
		"CREATE INDEX IF NOT EXISTS recency_idx ON cache (recency)",
		"DELETE FROM cache",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLiteCache{
		db:     db,
		limits: limits.withDefaults(),
	}, nil
}

func (s *SQLiteCache) Lookup(t target.Target) ([]byte, bool, error) {
	var content []byte
	s.mutex.RLock()
	err := s.db.QueryRow(
		"SELECT content FROM cache WHERE hostname = ? AND port = ? AND path = ?",
		t.Hostname, t.Port, t.Path,
	).Scan(&content)
	s.mutex.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	// no rows are affected if the entry was evicted between the two locks
	res, err := s.db.Exec(
		"UPDATE cache SET recency = ? WHERE hostname = ? AND port = ? AND path = ?",
		s.clock, t.Hostname, t.Port, t.Path,
	)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.clock++
	}
	s.hits.Inc()
	return content, true, nil
}

func (s *SQLiteCache) Insert(t target.Target, content []byte) (bool, error) {
	size := len(content)
	if size > s.limits.MaxObjectSize {
		return false, ErrObjectTooLarge
	}
	if size > s.limits.Capacity {
		return false, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	used, entries, evicted := s.used, s.entries, 0

	var oldSize int
	err = tx.QueryRow(
		"SELECT size FROM cache WHERE hostname = ? AND port = ? AND path = ?",
		t.Hostname, t.Port, t.Path,
	).Scan(&oldSize)
	switch {
	case err == nil:
		if _, err := tx.Exec(
			"DELETE FROM cache WHERE hostname = ? AND port = ? AND path = ?",
			t.Hostname, t.Port, t.Path,
		); err != nil {
			return false, err
		}
		used -= oldSize
		entries--
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	for used+size > s.limits.Capacity {
		var (
			victim     target.Target
			victimSize int
		)
		if err := tx.QueryRow(
			"SELECT hostname, port, path, size FROM cache ORDER BY recency ASC LIMIT 1",
		).Scan(&victim.Hostname, &victim.Port, &victim.Path, &victimSize); err != nil {
			return false, fmt.Errorf("could not find eviction candidate: %w", err)
		}
		if _, err := tx.Exec(
			"DELETE FROM cache WHERE hostname = ? AND port = ? AND path = ?",
			victim.Hostname, victim.Port, victim.Path,
		); err != nil {
			return false, err
		}
		used -= victimSize
		entries--
		evicted++
	}

	if _, err := tx.Exec(
		"INSERT INTO cache (hostname, port, path, recency, size, content) VALUES (?, ?, ?, ?, ?, ?)",
		t.Hostname, t.Port, t.Path, s.clock, size, content,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.clock++
	s.used = used + size
	s.entries = entries + 1
	s.evictions.Add(int64(evicted))
	s.inserts.Inc()
	return true, nil
}

func (s *SQLiteCache) Renumber() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT hostname, port, path FROM cache ORDER BY recency ASC")
	if err != nil {
		return err
	}
	var keys []target.Target
	for rows.Next() {
		var k target.Target
		if err := rows.Scan(&k.Hostname, &k.Port, &k.Path); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, k := range keys {
		if _, err := tx.Exec(
			"UPDATE cache SET recency = ? WHERE hostname = ? AND port = ? AND path = ?",
			i, k.Hostname, k.Port, k.Path,
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.clock = int64(len(keys))
	return nil
}

func (s *SQLiteCache) Clock() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.clock
}

func (s *SQLiteCache) Stats() Stats {
	s.mutex.RLock()
	st := Stats{
		Entries:  s.entries,
		Used:     s.used,
		Capacity: s.limits.Capacity,
		Clock:    s.clock,
	}
	s.mutex.RUnlock()
	s.counters.fill(&st)
	return st
}

func (s *SQLiteCache) Entries() ([]EntryInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entries := make([]EntryInfo, 0)
	rows, err := s.db.Query("SELECT hostname, port, path, size, recency FROM cache ORDER BY recency ASC")
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var e EntryInfo
		if err := rows.Scan(&e.Hostname, &e.Port, &e.Path, &e.Size, &e.Recency); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

var _ Provider = (*SQLiteCache)(nil)
