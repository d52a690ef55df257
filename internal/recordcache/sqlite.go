package recordcache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// cacheRow maps 1:1 to the cache_entries table, mirroring the teacher's
// flat-struct-plus-sqlx.NamedExec pattern (internal config store).
type cacheRow struct {
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SQLiteCache is the reference Record Cache implementation: a single
// SQLite table keyed by cache key, storing the JSON-encoded row set and
// the wall-clock time it was last written (spec §4.E "Dates in cached
// rows must be re-hydrated from strings on load" is handled one layer up,
// by the caller re-parsing Value; SQLiteCache itself only persists bytes
// and a timestamp).
type SQLiteCache struct {
	db *sqlx.DB
}

// NewSQLiteCache opens (and migrates) a SQLite-backed Cache. Pass an empty
// dataDir for an in-memory cache.
func NewSQLiteCache(dataDir string) (*SQLiteCache, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create record cache dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "recordcache.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open record cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate record cache database: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key if it was written within ttl; a zero
// ttl disables the age check.
func (c *SQLiteCache) Get(key string, ttl time.Duration) ([]byte, bool) {
	var row cacheRow
	if err := c.db.Get(&row, "SELECT key, value, updated_at FROM cache_entries WHERE key = ?", key); err != nil {
		return nil, false
	}
	if ttl != 0 && time.Since(row.UpdatedAt) > ttl {
		return nil, false
	}
	return row.Value, true
}

// Put writes value under key, stamping the current time as its mtime.
func (c *SQLiteCache) Put(key string, value []byte) error {
	row := cacheRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	const q = `INSERT INTO cache_entries (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := c.db.NamedExec(q, row)
	return err
}

// MTime returns the last-write time recorded for key.
func (c *SQLiteCache) MTime(key string) (time.Time, bool) {
	var updatedAt time.Time
	if err := c.db.Get(&updatedAt, "SELECT updated_at FROM cache_entries WHERE key = ?", key); err != nil {
		return time.Time{}, false
	}
	return updatedAt, true
}

var _ Cache = (*SQLiteCache)(nil)
