// Package hashcache persists the (path, identity) -> digests mapping that
// lets rescans skip unchanged files, per spec.md §4.4/§6. Grounded on
// steveyegge-vc's internal/storage/sqlite: database/sql + go-sqlite3, WAL
// journal mode, and a dedicated connection for BEGIN IMMEDIATE writes to
// serialize concurrent cache writers.
package hashcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/duplisweep/duplisweep/internal/dmerrors"
	"github.com/duplisweep/duplisweep/internal/logging"
	"github.com/duplisweep/duplisweep/internal/model"
)

// SchemaVersion must match model.CacheRecord.Version. Bumping it forces a
// full rebuild of any on-disk cache opened with an older value, per
// spec.md §6.
const SchemaVersion = model.CurrentSchemaVersion

const schema = `
CREATE TABLE IF NOT EXISTS hash_cache (
	path          TEXT PRIMARY KEY,
	size          INTEGER NOT NULL,
	mtime_sec     INTEGER NOT NULL,
	mtime_nsec    INTEGER NOT NULL,
	inode         INTEGER NOT NULL,
	device        INTEGER NOT NULL,
	prefix_digest BLOB,
	full_digest   BLOB,
	perceptual    BLOB,
	simhash       INTEGER,
	version       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// retryConfig implements spec.md §7's "retry up to 3x with jittered
// backoff" policy for cache writer contention, adapted from the
// exponential-backoff shape in shared/pkg/retry.
type retryConfig struct {
	maxAttempts int
	initialWait time.Duration
	maxWait     time.Duration
	multiplier  float64
	jitter      float64
}

var busyRetry = retryConfig{
	maxAttempts: 3,
	initialWait: 50 * time.Millisecond,
	maxWait:     5 * time.Second,
	multiplier:  2.0,
	jitter:      0.2,
}

func (c retryConfig) wait(attempt int) time.Duration {
	base := float64(c.initialWait) * math.Pow(c.multiplier, float64(attempt-1))
	if base > float64(c.maxWait) {
		base = float64(c.maxWait)
	}
	jittered := base + base*c.jitter*(rand.Float64()*2-1)
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// isBusy reports whether err indicates SQLITE_BUSY/locked contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Cache is a durable, WAL-journaled key-value store keyed on canonical
// path. Disabled carries the reason the cache opened in cache-less mode,
// per spec.md §4.4 ("if the cache cannot be opened, the pipeline
// continues cache-less and records a warning").
type Cache struct {
	db       *sql.DB
	Disabled bool
	Reason   error
}

// Open opens or creates the cache at path. A schema-version mismatch
// against an existing database drops and recreates the hash_cache table.
// Any failure to open or migrate returns a Cache with Disabled=true
// rather than an error, so callers can fall back to running cache-less
// without aborting the pipeline.
func Open(path string) *Cache {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return disabled(path, "cannot create cache directory", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return disabled(path, "cannot open cache", err)
	}
	if err := db.Ping(); err != nil {
		return disabled(path, "cannot ping cache", err)
	}

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return disabled(path, "cache schema migration failed", err)
	}
	return c
}

func disabled(path, message string, err error) *Cache {
	wrapped := dmerrors.Wrap(dmerrors.CodeCacheCorrupt, message, path, err)
	logging.Warn("hashcache: disabling cache, continuing cache-less", logging.String("path", path), logging.Err(wrapped))
	return &Cache{Disabled: true, Reason: wrapped}
}

func (c *Cache) migrate() error {
	var storedVersion int
	err := c.db.QueryRow(`SELECT value FROM cache_meta WHERE key = 'schema_version'`).Scan(&storedVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh database: create schema at the current version.
		if _, execErr := c.db.Exec(schema); execErr != nil {
			return execErr
		}
		_, execErr := c.db.Exec(`INSERT INTO cache_meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(SchemaVersion))
		return execErr
	case err != nil:
		// cache_meta itself doesn't exist yet on a pre-meta database.
		if _, execErr := c.db.Exec(schema); execErr != nil {
			return execErr
		}
		_, execErr := c.db.Exec(`INSERT OR REPLACE INTO cache_meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(SchemaVersion))
		return execErr
	case storedVersion != SchemaVersion:
		if _, execErr := c.db.Exec(`DROP TABLE IF EXISTS hash_cache`); execErr != nil {
			return execErr
		}
		if _, execErr := c.db.Exec(schema); execErr != nil {
			return execErr
		}
		_, execErr := c.db.Exec(`UPDATE cache_meta SET value = ? WHERE key = 'schema_version'`, fmt.Sprint(SchemaVersion))
		return execErr
	default:
		return nil
	}
}

// Close releases the underlying database handle. Safe to call on a
// Disabled cache.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Lookup returns the cached record for path if its identity tuple still
// matches e, per spec.md §4.4 ("mismatch -> miss"). ok is false on a miss,
// an absent record, or a disabled cache.
func (c *Cache) Lookup(ctx context.Context, e *model.FileEntry) (model.CacheRecord, bool) {
	if c.Disabled {
		return model.CacheRecord{}, false
	}
	var rec model.CacheRecord
	var prefix, full, perceptual []byte
	var simhash sql.NullInt64

	row := c.db.QueryRowContext(ctx, `
		SELECT path, size, mtime_sec, mtime_nsec, inode, device,
		       prefix_digest, full_digest, perceptual, simhash, version
		FROM hash_cache WHERE path = ?
	`, e.Path)
	err := row.Scan(&rec.Path, &rec.Size, &rec.MTimeSec, &rec.MTimeNsec, &rec.Inode, &rec.Device,
		&prefix, &full, &perceptual, &simhash, &rec.Version)
	if err != nil {
		return model.CacheRecord{}, false
	}
	if !rec.MatchesEntry(e) || rec.Version != SchemaVersion {
		return model.CacheRecord{}, false
	}
	if d, ok := toDigest(prefix); ok {
		rec.PrefixDigest = &d
	}
	if d, ok := toDigest(full); ok {
		rec.FullDigest = &d
	}
	if len(perceptual) == 8 {
		v := decodeU64(perceptual)
		rec.Perceptual = &v
	}
	if simhash.Valid {
		v := uint64(simhash.Int64)
		rec.SimHash = &v
	}
	return rec, true
}

// Store writes rec, coalescing into a single upsert per file as spec.md
// §4.4 requires ("writes are coalesced per-file"). A partial record (e.g.
// only Perceptual populated, because the run never needed a full hash)
// merges its nil digest columns with whatever is already cached, but only
// when the existing row's identity tuple still equals rec's — an identity
// change (the file's content changed between runs) discards every old
// digest column instead of carrying a stale one forward under the new
// identity, per the CacheRecord validity invariant in spec.md §3. Busy-
// timeout contention is retried per the module's jittered-backoff policy;
// on exhaustion the write is skipped and an error returned so the caller
// can bypass the cache for this entry per spec.md §7.
func (c *Cache) Store(ctx context.Context, rec model.CacheRecord) error {
	if c.Disabled {
		return nil
	}
	rec.Version = SchemaVersion

	var lastErr error
	for attempt := 1; attempt <= busyRetry.maxAttempts; attempt++ {
		lastErr = c.storeOnce(ctx, rec)
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) {
			return dmerrors.Wrap(dmerrors.CodeCacheCorrupt, "cache write failed", rec.Path, lastErr)
		}
		select {
		case <-ctx.Done():
			return dmerrors.Wrap(dmerrors.CodeCancelled, "cache write cancelled during retry", rec.Path, ctx.Err())
		case <-time.After(busyRetry.wait(attempt)):
		}
	}
	return dmerrors.Wrap(dmerrors.CodeCacheBusy, "cache write exhausted retries, bypassing cache for this entry", rec.Path, lastErr)
}

func (c *Cache) storeOnce(ctx context.Context, rec model.CacheRecord) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO hash_cache (
			path, size, mtime_sec, mtime_nsec, inode, device,
			prefix_digest, full_digest, perceptual, simhash, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_sec = excluded.mtime_sec,
			mtime_nsec = excluded.mtime_nsec,
			inode = excluded.inode,
			device = excluded.device,
			prefix_digest = CASE WHEN hash_cache.size = excluded.size
				AND hash_cache.mtime_sec = excluded.mtime_sec
				AND hash_cache.mtime_nsec = excluded.mtime_nsec
				AND hash_cache.inode = excluded.inode
				AND hash_cache.device = excluded.device
				THEN COALESCE(excluded.prefix_digest, hash_cache.prefix_digest)
				ELSE excluded.prefix_digest END,
			full_digest = CASE WHEN hash_cache.size = excluded.size
				AND hash_cache.mtime_sec = excluded.mtime_sec
				AND hash_cache.mtime_nsec = excluded.mtime_nsec
				AND hash_cache.inode = excluded.inode
				AND hash_cache.device = excluded.device
				THEN COALESCE(excluded.full_digest, hash_cache.full_digest)
				ELSE excluded.full_digest END,
			perceptual = CASE WHEN hash_cache.size = excluded.size
				AND hash_cache.mtime_sec = excluded.mtime_sec
				AND hash_cache.mtime_nsec = excluded.mtime_nsec
				AND hash_cache.inode = excluded.inode
				AND hash_cache.device = excluded.device
				THEN COALESCE(excluded.perceptual, hash_cache.perceptual)
				ELSE excluded.perceptual END,
			simhash = CASE WHEN hash_cache.size = excluded.size
				AND hash_cache.mtime_sec = excluded.mtime_sec
				AND hash_cache.mtime_nsec = excluded.mtime_nsec
				AND hash_cache.inode = excluded.inode
				AND hash_cache.device = excluded.device
				THEN COALESCE(excluded.simhash, hash_cache.simhash)
				ELSE excluded.simhash END,
			version = excluded.version
	`, rec.Path, rec.Size, rec.MTimeSec, rec.MTimeNsec, rec.Inode, rec.Device,
		digestBytes(rec.PrefixDigest), digestBytes(rec.FullDigest), perceptualBytes(rec.Perceptual), nullableU64(rec.SimHash), rec.Version)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return err
	}
	committed = true
	return nil
}

func digestBytes(d *model.Digest) []byte {
	if d == nil {
		return nil
	}
	return d[:]
}

func toDigest(raw []byte) (model.Digest, bool) {
	if len(raw) != model.DigestSize {
		return model.Digest{}, false
	}
	var d model.Digest
	copy(d[:], raw)
	return d, true
}

func perceptualBytes(v *uint64) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 8)
	encodeU64(b, *v)
	return b
}

func nullableU64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func encodeU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func decodeU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
