// Package db stores diagnostic telemetry: backend call records and stage
// transitions. Nothing in it is read back into pipeline state.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DB wraps the telemetry database connection.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect Dialect
}

// DefaultDBPath returns ~/.patchpilot/telemetry.db, creating the directory if
// needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".patchpilot")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "telemetry.db"), nil
}

// DialectFor picks the dialect for dsn: postgres:// and postgresql:// URLs
// use Postgres, anything else is a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the database named by dsn.
func Open(dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	driver := "sqlite3"
	if dialect == DialectPostgres {
		driver = "pgx"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dialect == DialectSQLite {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}
	return &DB{conn: conn, dsn: dsn, dialect: dialect}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Dialect reports the SQL flavour in use.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Conn returns the underlying *sql.DB for queries outside this package.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (d *DB) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(d.Rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(d.Rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.conn.QueryRow(d.Rebind(query), args...)
}

// schemaV1 is applied one statement at a time; {{pk}} is the dialect's
// auto-increment primary key.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS api_calls (
    id             {{pk}},
    call_id        TEXT NOT NULL,
    session_id     TEXT NOT NULL,
    endpoint       TEXT NOT NULL,
    method         TEXT NOT NULL,
    status_code    INTEGER,
    duration_ms    INTEGER NOT NULL,
    request_size   INTEGER NOT NULL DEFAULT 0,
    response_size  INTEGER NOT NULL DEFAULT 0,
    error_kind     TEXT,
    error_message  TEXT,
    missing_fields TEXT,
    request        TEXT,
    response       TEXT,
    created_at     TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_api_calls_session ON api_calls(session_id, id)`,
	`CREATE TABLE IF NOT EXISTS stage_events (
    id          {{pk}},
    session_id  TEXT NOT NULL,
    generation  INTEGER NOT NULL,
    stage       TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL CHECK(to_status IN ('idle','loading','success','error')),
    attempt     INTEGER NOT NULL,
    error       TEXT,
    duration_ms INTEGER,
    created_at  TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_events_session ON stage_events(session_id, id)`,
}

func (d *DB) primaryKey() string {
	if d.dialect == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Migrate applies the schema if it has not been applied yet.
func (d *DB) Migrate() error {
	var count int
	err := d.queryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaV1 {
		if _, err := tx.Exec(strings.ReplaceAll(stmt, "{{pk}}", d.primaryKey())); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"),
		1, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	for _, t := range []string{"stage_events", "api_calls", "schema_version"} {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
