// Package cache is the sqlite-backed key/value store that sits in front of
// every provider. Entries expire per data type; expired rows are treated as
// missing and cleaned up in bulk by ClearOlderThan.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DataType selects the TTL of an entry.
type DataType string

const (
	History      DataType = "history"
	Info         DataType = "info"
	Fundamentals DataType = "fundamentals"
	News         DataType = "news"
	Analysis     DataType = "analysis"
)

var dataTypes = []DataType{History, Info, Fundamentals, News, Analysis}

func ParseDataType(s string) (DataType, error) {
	for _, dt := range dataTypes {
		if string(dt) == s {
			return dt, nil
		}
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// DefaultTTL returns a fresh copy of the default TTL table.
func DefaultTTL() map[DataType]time.Duration {
	return map[DataType]time.Duration{
		History:      time.Hour,
		Info:         6 * time.Hour,
		Fundamentals: 12 * time.Hour,
		News:         time.Hour,
		Analysis:     2 * time.Hour,
	}
}

// ValidateTTL rejects tables with unknown data types, missing entries or
// non-positive durations.
func ValidateTTL(ttl map[DataType]time.Duration) error {
	for dt, d := range ttl {
		if _, err := ParseDataType(string(dt)); err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("ttl for %s must be positive, got %s", dt, d)
		}
	}
	for _, dt := range dataTypes {
		if _, ok := ttl[dt]; !ok {
			return fmt.Errorf("ttl for %s is not configured", dt)
		}
	}
	return nil
}

// tsLayout is fixed width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is a cached payload with its provenance.
type Entry struct {
	Payload   []byte
	WrittenAt time.Time
	Provider  string
	Variant   string
}

// Store is safe for concurrent use; every operation is serialised by one
// mutex so callers never see a half-written row.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	ttl map[DataType]time.Duration
	now func() time.Time
	log *zap.Logger
}

type Option func(*Store)

// WithTTL overrides individual TTLs on top of DefaultTTL.
func WithTTL(ttl map[DataType]time.Duration) Option {
	return func(s *Store) {
		for dt, d := range ttl {
			s.ttl[dt] = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{ttl: DefaultTTL(), now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if err := ValidateTTL(s.ttl); err != nil {
		return nil, fmt.Errorf("cache ttl: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps pragmas in effect for every statement
	db.SetMaxOpenConns(1)
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	s.db = db
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("cache opened", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key       TEXT PRIMARY KEY,
			payload   BLOB NOT NULL,
			timestamp TEXT NOT NULL,
			data_type TEXT NOT NULL,
			provider  TEXT NOT NULL DEFAULT '',
			variant   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_ts ON cache(timestamp)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", q[:30], err)
		}
	}
	return nil
}

// Get returns the payload if present and younger than the data type's TTL.
func (s *Store) Get(ctx context.Context, key string, dt DataType) ([]byte, bool) {
	e, ok := s.Lookup(ctx, key, dt)
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// Lookup is Get with provenance and write time.
func (s *Store) Lookup(ctx context.Context, key string, dt DataType) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		e  Entry
		ts string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, timestamp, provider, variant FROM cache WHERE key = ? AND data_type = ?`,
		key, string(dt)).Scan(&e.Payload, &ts, &e.Provider, &e.Variant)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false
	}
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	e.WrittenAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		s.log.Warn("cache timestamp unreadable", zap.String("key", key), zap.String("timestamp", ts))
		return Entry{}, false
	}
	if s.now().Sub(e.WrittenAt) > s.ttl[dt] {
		return Entry{}, false
	}
	return e, true
}

type putOptions struct {
	provider string
	variant  string
}

type PutOption func(*putOptions)

// WithProvenance records which provider and symbol variant produced the
// payload.
func WithProvenance(provider, variant string) PutOption {
	return func(o *putOptions) {
		o.provider = provider
		o.variant = variant
	}
}

// Put upserts the payload with a fresh timestamp. Failures are logged and
// otherwise ignored; a failed write only costs a future cache miss.
func (s *Store) Put(ctx context.Context, key string, dt DataType, payload []byte, opts ...PutOption) {
	var po putOptions
	for _, o := range opts {
		o(&po)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(ctx, key, dt, payload, po); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) put(ctx context.Context, key string, dt DataType, payload []byte, po putOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache (key, payload, timestamp, data_type, provider, variant)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			timestamp = excluded.timestamp,
			data_type = excluded.data_type,
			provider = excluded.provider,
			variant = excluded.variant`,
		key, payload, s.now().UTC().Format(tsLayout), string(dt), po.provider, po.variant)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return tx.Commit()
}

// ClearOlderThan deletes every row written more than horizon ago and
// returns how many were removed.
func (s *Store) ClearOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-horizon).UTC().Format(tsLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	n, _ := res.RowsAffected()
	s.log.Info("cache cleared", zap.Int64("rows", n), zap.Duration("horizon", horizon))
	return n, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
