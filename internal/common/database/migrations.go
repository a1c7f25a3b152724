package database

import (
	"context"
	"database/sql"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Migration struct {
	id   int
	name string
	sql  string
}

func NewMigration(id int, name string, sql string) Migration {
	return Migration{id: id, name: name, sql: sql}
}

// UpdateDatabase applies every migration newer than the recorded schema version, each in its own transaction.
func UpdateDatabase(ctx context.Context, db *sql.DB, migrations []Migration) error {
	log.Info("Updating database...")
	version, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	log.Infof("Current version %v", version)

	for _, m := range migrations {
		if m.id <= version {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return errors.WithMessagef(err, "migration %s", m.name)
		}
		version = m.id
	}
	log.Infof("Database updated to version %v", version)
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, statement := range splitStatements(m.sql) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return errors.WithStack(err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = "+strconv.Itoa(m.id)); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(tx.Commit())
}

func readVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, errors.WithStack(err)
	}
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return 0, errors.WithStack(err)
		}
		return 0, nil
	}
	return version, errors.WithStack(err)
}

// ReadMigrations loads files named <id>_<description>.sql from dir, ordered by id.
func ReadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	migrations := []Migration{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		id, err := strconv.Atoi(strings.Split(entry.Name(), "_")[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid migration file name %s", entry.Name())
		}
		contents, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		migrations = append(migrations, Migration{id: id, name: entry.Name(), sql: string(contents)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].id < migrations[j].id })
	return migrations, nil
}

// splitStatements splits a migration file on semicolons. Migrations must not contain semicolons inside literals.
func splitStatements(script string) []string {
	var statements []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			statements = append(statements, s)
		}
	}
	return statements
}
