// Package sqlstore implements the DynamoDB operation set on a relational
// backend: the metadata catalog, the item store with GSI maintenance, and the
// transaction coordinator. Every mutating operation commits its item row, its
// GSI projection rows and its stream record as one SQL transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/streams"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Options configures a Store.
type Options struct {
	// DatabaseURL selects the backend: postgres://... for PostgreSQL via pgx,
	// anything else is treated as an SQLite DSN (":memory:" works).
	DatabaseURL string
	Logger      *zap.Logger
	Clock       clockwork.Clock
	// MaxRetries bounds internal retries of transient SQL failures.
	MaxRetries uint64
}

// Store is the SQL-backed DynamoDB core.
type Store struct {
	db         *sqlx.DB
	dialect    Dialect
	catalog    *catalog
	clock      clockwork.Clock
	logger     *zap.Logger
	maxRetries uint64
}

// Open connects to the database, provisions the schema and returns the store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect := DialectForURL(opts.DatabaseURL)
	db, err := sqlx.Open(dialect.DriverName(), opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectSQLite {
		// A single connection keeps the in-memory database alive and sidesteps
		// SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store, err := New(db, dialect, opts)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool. Migrate must have run.
func New(db *sqlx.DB, dialect Dialect, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	retries := opts.MaxRetries
	if retries == 0 {
		retries = 5
	}
	return &Store{
		db:         db,
		dialect:    dialect,
		catalog:    newCatalog(db),
		clock:      clock,
		logger:     logger,
		maxRetries: retries,
	}, nil
}

// DB exposes the underlying pool to the background workers.
func (s *Store) DB() *sqlx.DB { return s.db }

// Clock exposes the injected clock.
func (s *Store) Clock() clockwork.Clock { return s.clock }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate provisions the physical schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
			name TEXT PRIMARY KEY,
			schema_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			table_name TEXT NOT NULL,
			hash_key BYTEA NOT NULL,
			range_key BYTEA NOT NULL,
			payload TEXT NOT NULL,
			ttl_epoch BIGINT,
			segment_hash BIGINT NOT NULL,
			PRIMARY KEY (table_name, hash_key, range_key)
		)`,
		`CREATE INDEX IF NOT EXISTS items_ttl_idx ON items (table_name, ttl_epoch) WHERE ttl_epoch IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS gsi_projections (
			table_name TEXT NOT NULL,
			index_name TEXT NOT NULL,
			gsi_hash BYTEA NOT NULL,
			gsi_range BYTEA NOT NULL,
			base_hash BYTEA NOT NULL,
			base_range BYTEA NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (table_name, index_name, base_hash, base_range)
		)`,
		`CREATE INDEX IF NOT EXISTS gsi_projections_key_idx
			ON gsi_projections (table_name, index_name, gsi_hash, gsi_range, base_hash, base_range)`,
		`CREATE TABLE IF NOT EXISTS streams (
			stream_arn TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			stream_label TEXT NOT NULL,
			view_type TEXT NOT NULL,
			next_seq BIGINT NOT NULL DEFAULT 1,
			trim_seq BIGINT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stream_records (
			stream_arn TEXT NOT NULL,
			seq BIGINT NOT NULL,
			event_name TEXT NOT NULL,
			keys_json TEXT NOT NULL,
			old_image TEXT,
			new_image TEXT,
			service_principal TEXT,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (stream_arn, seq)
		)`,
	}
	if s.dialect == DialectSQLite {
		for i, stmt := range stmts {
			stmts[i] = sqliteDDL(stmt)
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// txFunc runs inside one SQL transaction.
type txFunc func(tx *sqlx.Tx) error

// withTx runs fn in a transaction, retrying transient concurrency failures
// with bounded exponential backoff. Logical failures (any smithy.APIError)
// surface immediately; a deadline expiry maps to RequestTimeout.
func (s *Store) withTx(ctx context.Context, fn txFunc) error {
	operation := func() error {
		txOpts := &sql.TxOptions{}
		if s.dialect == DialectPostgres {
			// Repeatable read plus explicit row locks on every touched key;
			// serialization failures are retried below.
			txOpts.Isolation = sql.LevelRepeatableRead
		}
		tx, err := s.db.BeginTxx(ctx, txOpts)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	err := backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		var api smithy.APIError
		if errors.As(err, &api) {
			return backoff.Permanent(err)
		}
		if s.dialect.Retryable(err) {
			s.logger.Debug("retrying transient sql failure", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ddberr.RequestTimeout("operation did not complete before its deadline")
		}
		return err
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// now returns the injected wall-clock time, truncated for stable timestamps.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// appendStream writes a capture record inside the caller's transaction when
// the table has an enabled stream.
func (s *Store) appendStream(tx *sqlx.Tx, rec streams.Capture) error {
	return streams.Append(tx, rec)
}

// sqliteDDL rewrites the portable DDL for SQLite's type names.
func sqliteDDL(stmt string) string {
	replacer := sqliteTypeReplacer
	return replacer.Replace(stmt)
}
