package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// CachingDataStore decorates another DataStore with a SQLite-backed TTL
// cache, so repeated canwhat/diff calls against the same principal don't
// re-hit IAM and Organizations.
type CachingDataStore struct {
	conn   *sql.DB
	inner  DataStore
	ttl    time.Duration
	nowFn  func() time.Time
}

// OpenCache opens (or creates) the SQLite cache database at path and wraps
// inner with it. A ttl of zero disables caching (every call passes through).
func OpenCache(path string, inner DataStore, ttl time.Duration) (*CachingDataStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	c := &CachingDataStore{conn: conn, inner: inner, ttl: ttl, nowFn: time.Now}
	if err := c.configure(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// OpenMemoryCache opens an in-memory cache database (for testing).
func OpenMemoryCache(inner DataStore, ttl time.Duration) (*CachingDataStore, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory sqlite: %w", err)
	}
	c := &CachingDataStore{conn: conn, inner: inner, ttl: ttl, nowFn: time.Now}
	if err := c.configure(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *CachingDataStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := c.conn.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (c *CachingDataStore) migrate() error {
	schema := `
-- One row per principal ARN. fetched_at lets GetAllPoliciesForPrincipal
-- decide whether a row is still within ttl or needs a live refetch.
CREATE TABLE IF NOT EXISTS principal_policies_cache (
    principal_arn TEXT PRIMARY KEY,
    fetched_at    INTEGER NOT NULL,
    payload       TEXT    NOT NULL
);
`
	if _, err := c.conn.Exec(schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying cache database connection.
func (c *CachingDataStore) Close() error {
	return c.conn.Close()
}

// GetAllPoliciesForPrincipal implements DataStore, serving from the cache
// when a fresh-enough row exists and delegating to inner otherwise.
func (c *CachingDataStore) GetAllPoliciesForPrincipal(ctx context.Context, principalARN string) (*PrincipalPolicies, error) {
	if c.ttl > 0 {
		if cached, ok, err := c.lookup(ctx, principalARN); err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		} else if ok {
			return cached, nil
		}
	}

	fresh, err := c.inner.GetAllPoliciesForPrincipal(ctx, principalARN)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		if err := c.store(ctx, principalARN, fresh); err != nil {
			return nil, fmt.Errorf("cache store: %w", err)
		}
	}
	return fresh, nil
}

// Invalidate drops any cached row for principalARN, forcing the next call
// to refetch live.
func (c *CachingDataStore) Invalidate(ctx context.Context, principalARN string) error {
	_, err := c.conn.ExecContext(ctx, `DELETE FROM principal_policies_cache WHERE principal_arn = ?`, principalARN)
	return err
}

func (c *CachingDataStore) lookup(ctx context.Context, principalARN string) (*PrincipalPolicies, bool, error) {
	row := c.conn.QueryRowContext(ctx,
		`SELECT fetched_at, payload FROM principal_policies_cache WHERE principal_arn = ?`, principalARN)

	var fetchedAt int64
	var payload string
	if err := row.Scan(&fetchedAt, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	age := c.nowFn().Sub(time.Unix(fetchedAt, 0))
	if age > c.ttl {
		return nil, false, nil
	}

	var pp PrincipalPolicies
	if err := json.Unmarshal([]byte(payload), &pp); err != nil {
		return nil, false, fmt.Errorf("decoding cached payload: %w", err)
	}
	return &pp, true, nil
}

func (c *CachingDataStore) store(ctx context.Context, principalARN string, pp *PrincipalPolicies) error {
	payload, err := json.Marshal(pp)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	_, err = c.conn.ExecContext(ctx, `
		INSERT INTO principal_policies_cache (principal_arn, fetched_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(principal_arn) DO UPDATE SET fetched_at = excluded.fetched_at, payload = excluded.payload
	`, principalARN, c.nowFn().Unix(), string(payload))
	return err
}
