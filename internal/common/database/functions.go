package database

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Supported SQL dialects. The names match the goqu dialect names.
const (
	DialectSqlite   = "sqlite3"
	DialectPostgres = "postgres"
)

var driverNames = map[string]string{
	DialectSqlite:   "sqlite",
	DialectPostgres: "pgx",
}

// CreateConnectionString renders a libpq keyword/value connection string.
// Keys are sorted so the result is stable.
func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(pairs, " ")
}

// Open returns a pinged database handle for the given dialect.
// SQLite handles are limited to a single connection, so callers must not issue queries outside of an open
// transaction while that transaction is in progress.
func Open(ctx context.Context, dialect string, dataSource string) (*sql.DB, error) {
	driver, ok := driverNames[dialect]
	if !ok {
		return nil, errors.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if dialect == DialectSqlite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return db, nil
}

// IsTransient returns true for Postgres errors that are expected to succeed when the transaction is retried.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// IsUniqueViolation returns true if err was raised by Postgres for a duplicate key.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
