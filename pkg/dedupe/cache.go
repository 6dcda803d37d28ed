// Package dedupe keeps a local cache of recently delivered event keys so
// restart replays are absorbed before they reach the endpoint.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a SQLite-backed set of delivered dedupe keys.
// Losing the cache is harmless: the endpoint's own dedupe (keyed the same
// way) remains the backstop, so at worst a duplicate is sent once.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at the given path.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return c, nil
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS delivered (
		key          TEXT PRIMARY KEY,
		delivered_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_delivered_at ON delivered(delivered_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Seen reports whether a dedupe key has already been delivered.
func (c *Cache) Seen(ctx context.Context, key string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM delivered WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query delivered key: %w", err)
	}
	return true, nil
}

// MarkDelivered records a successfully delivered key.
func (c *Cache) MarkDelivered(ctx context.Context, key string, at time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO delivered (key, delivered_at) VALUES (?, ?)`,
		key, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record delivered key: %w", err)
	}
	return nil
}

// Prune removes keys delivered before the retention window and returns how
// many were removed.
func (c *Cache) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx, `DELETE FROM delivered WHERE delivered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune delivered keys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
