package sqlstore

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// Dialect abstracts over the two supported engines. Queries are written with
// '?' placeholders and rebound per driver.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// sqliteTypeReplacer maps the portable DDL's PostgreSQL type names onto
// SQLite storage classes.
// TIMESTAMP stays: modernc/sqlite keys time.Time scanning off the decltype.
var sqliteTypeReplacer = strings.NewReplacer("BYTEA", "BLOB")

// DialectForURL picks the dialect from a database URL.
func DialectForURL(url string) Dialect {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// DriverName returns the database/sql driver to open.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// ForUpdate returns the row-lock suffix for conditional reads. SQLite has no
// FOR UPDATE; its write transaction already serializes writers.
func (d Dialect) ForUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Retryable reports whether the error is a transient concurrency failure that
// the store should retry: a PostgreSQL serialization failure or deadlock, or
// an SQLite busy/locked error.
func (d Dialect) Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01" // serialization_failure, deadlock_detected
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
