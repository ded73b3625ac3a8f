package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// DB wraps the relational store. Default backend is sqlite at
// <home>/harness/state.db; a TINYAGI_POSTGRES_DSN env var switches to Postgres.
type DB struct {
	sql     *sql.DB
	dialect string
}

// Open opens (and migrates) the repository under the state home.
func Open(home string) (*DB, error) {
	if dsn := os.Getenv("TINYAGI_POSTGRES_DSN"); dsn != "" {
		return openPostgres(dsn)
	}
	path := filepath.Join(home, "harness", "state.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create harness dir: %w", err)
	}
	return openSQLite(path)
}

// OpenSQLitePath opens a sqlite repository at an explicit path (tests use
// ":memory:" via a temp file).
func OpenSQLitePath(path string) (*DB, error) {
	return openSQLite(path)
}

func openSQLite(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	d := &DB{sql: db, dialect: dialectSQLite}
	if err := d.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func openPostgres(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	d := &DB{sql: db, dialect: dialectPostgres}
	if err := d.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrateUp() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	var m *migrate.Migrate
	switch d.dialect {
	case dialectPostgres:
		drv, err := mpostgres.WithInstance(d.sql, &mpostgres.Config{})
		if err != nil {
			return fmt.Errorf("migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
	default:
		drv, err := msqlite.WithInstance(d.sql, &msqlite.Config{})
		if err != nil {
			return fmt.Errorf("migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// Dialect reports the active SQL dialect ("sqlite" or "postgres").
func (d *DB) Dialect() string { return d.dialect }

// bind rewrites ? placeholders to $n for the Postgres dialect. SQL in this
// package is written once in the sqlite flavor.
func (d *DB) bind(query string) string {
	if d.dialect != dialectPostgres {
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

func (d *DB) exec(query string, args ...any) error {
	_, err := d.sql.Exec(d.bind(query), args...)
	return err
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.sql.QueryRow(d.bind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.sql.Query(d.bind(query), args...)
}

// newID returns a time-ordered row id.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// nowMillis is the canonical timestamp representation (BIGINT unix millis).
func nowMillis() int64 { return time.Now().UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
