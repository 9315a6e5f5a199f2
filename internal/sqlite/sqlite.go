// Package sqlite wraps local, file-based access to the password
// manager's SQLite database: journaling introspection, checkpointing,
// consistency checks, schema/table enumeration, and atomic snapshots.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrCorrupt indicates a failed integrity check.
var ErrCorrupt = errors.New("database failed integrity check")

// ErrCheckpointBusy indicates the checkpoint could not complete because
// of concurrent readers.
var ErrCheckpointBusy = errors.New("wal checkpoint could not complete")

// DB is a handle on one local SQLite database file.
type DB struct {
	conn *sql.DB
	path string
}

// SchemaObject is one row of sqlite_master: a table, index, view or
// trigger together with its CREATE statement.
type SchemaObject struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Definition string `json:"definition"`
}

// Open opens the database file at path. The file must already exist;
// opening never creates one (a typo'd path must not silently become an
// empty database).
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file %q: %w", path, err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Create opens (and creates if absent) a database file at path. Used for
// scratch databases during trial restores.
func Create(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("create database %q: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

func (d *DB) Close() error { return d.conn.Close() }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// WALPath returns the path of the write-ahead log sidecar file.
func (d *DB) WALPath() string { return d.path + "-wal" }

// Size returns the size of the main database file in bytes.
func (d *DB) Size() (int64, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", d.path, err)
	}
	return info.Size(), nil
}

// WALSize returns the size of the -wal sidecar, or 0 if it does not exist.
func (d *DB) WALSize() int64 {
	info, err := os.Stat(d.WALPath())
	if err != nil {
		return 0
	}
	return info.Size()
}

// JournalMode returns the active journaling mode ("wal", "delete", ...).
func (d *DB) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := d.conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("read journal_mode: %w", err)
	}
	return strings.ToLower(mode), nil
}

// CheckpointRestart forces a RESTART checkpoint: the whole log is
// reincorporated into the main file and subsequent writers restart the
// log from the beginning.
func (d *DB) CheckpointRestart(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := d.conn.QueryRowContext(ctx, "PRAGMA wal_checkpoint(RESTART)").
		Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("wal_checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("%w: %d of %d frames checkpointed",
			ErrCheckpointBusy, checkpointed, logFrames)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and fails unless the
// result is the single row "ok".
func (d *DB) IntegrityCheck(ctx context.Context) error {
	rows, err := d.conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity_check: %w", err)
	}
	defer rows.Close()

	var findings []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("scan integrity_check row: %w", err)
		}
		findings = append(findings, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity_check rows: %w", err)
	}
	if len(findings) == 1 && findings[0] == "ok" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(findings, "; "))
}

// Version returns the engine version string.
func (d *DB) Version(ctx context.Context) (string, error) {
	var v string
	if err := d.conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", fmt.Errorf("read sqlite_version: %w", err)
	}
	return v, nil
}

// UserTables lists user-defined tables, excluding sqlite_* system tables.
func (d *DB) UserTables(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableCount returns the number of user-defined tables.
func (d *DB) TableCount(ctx context.Context) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tables: %w", err)
	}
	return n, nil
}

// RowCount returns the number of rows in table.
func (d *DB) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	query := "SELECT count(*) FROM " + QuoteIdent(table)
	if err := d.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %q: %w", table, err)
	}
	return n, nil
}

// SchemaObjects returns every table, index, view and trigger definition,
// excluding internal sqlite_* objects and auto-indexes (which have no SQL).
func (d *DB) SchemaObjects(ctx context.Context) ([]SchemaObject, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT name, type, sql FROM sqlite_master
		 WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		 ORDER BY
		   CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1
		             WHEN 'view' THEN 2 ELSE 3 END,
		   name`)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var objects []SchemaObject
	for rows.Next() {
		var o SchemaObject
		if err := rows.Scan(&o.Name, &o.Kind, &o.Definition); err != nil {
			return nil, fmt.Errorf("scan schema object: %w", err)
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// Pragma reads a single string-valued pragma.
func (d *DB) Pragma(ctx context.Context, name string) (string, error) {
	var v string
	if err := d.conn.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return v, nil
}

// TableColumns returns the column names of table, in declaration order.
func (d *DB) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, "PRAGMA table_info("+QuoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table_info %q: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info row: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// QueryRows runs a read-only query and returns the raw rows; callers own
// the cursor and must Close it.
func (d *DB) QueryRows(ctx context.Context, query string) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, query)
}

// VacuumInto writes an atomic, compacted snapshot of the database to
// dest. The statement holds a single read transaction for its whole
// duration, so the snapshot is byte-consistent even under concurrent
// writers. dest must not exist.
func (d *DB) VacuumInto(ctx context.Context, dest string) error {
	// Escape single quotes in the path; it is spliced into the statement
	// because VACUUM INTO does not accept bind parameters.
	escaped := strings.ReplaceAll(dest, "'", "''")
	if _, err := d.conn.ExecContext(ctx, "VACUUM INTO '"+escaped+"'"); err != nil {
		return fmt.Errorf("vacuum into %q: %w", dest, err)
	}
	return nil
}

// Exec executes a single statement (used by trial restores).
func (d *DB) Exec(ctx context.Context, stmt string) error {
	if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// QuoteIdent double-quotes an identifier for safe splicing into SQL text.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
