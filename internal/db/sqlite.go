// Package db opens the SQLite database shared by the registry and the audit
// log. Writes go through a single-connection pool so that transactions are
// serialized; reads use a separate pool and never block on writers (WAL).
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options configures the connection pools.
type Options struct {
	// MaxOpenReadConns bounds the read pool. Zero picks max(4, NumCPU).
	MaxOpenReadConns int
}

// Sqlite holds the write and read pools of one database file.
type Sqlite struct {
	Write *sql.DB
	Read  *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts Options) (*Sqlite, error) {
	if path == "" || strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("database path must name a file, got %q", path)
	}

	params := make(url.Values)
	// BEGIN IMMEDIATE takes the write lock up front so busy_timeout applies.
	params.Add("_txlock", "immediate")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")

	dsn := "file:" + strings.TrimPrefix(path, "file:") + "?" + params.Encode()

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	maxRead := opts.MaxOpenReadConns
	if maxRead == 0 {
		maxRead = max(4, runtime.NumCPU())
	}
	read.SetMaxOpenConns(maxRead)

	return &Sqlite{Write: write, Read: read}, nil
}

// Setup applies schema to a fresh database and records schemaVersion in
// PRAGMA user_version. An existing database with another version is rejected.
func (s *Sqlite) Setup(ctx context.Context, schema string, schemaVersion int) error {
	var existing int
	if err := s.Write.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&existing); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}
	switch {
	case existing == 0:
		if _, err := s.Write.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		if _, err := s.Write.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	case existing != schemaVersion:
		return fmt.Errorf("database schema version mismatch: expected %d, have %d", schemaVersion, existing)
	default:
		return nil
	}
}

// WithTx runs fn in a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Sqlite) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.Write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// WithReadTx runs fn in a read-only transaction on the read pool, so every
// statement in fn sees the same committed snapshot.
func (s *Sqlite) WithReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Read.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// Close closes both pools.
func (s *Sqlite) Close() error {
	return errors.Join(s.Read.Close(), s.Write.Close())
}

// OpenWithSchema opens the database at path and applies the service schema.
func OpenWithSchema(ctx context.Context, path string, opts Options) (*Sqlite, error) {
	s, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Setup(ctx, Schema, SchemaVersion); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// IsConstraint reports whether err is a SQLite constraint violation
// (UNIQUE, PRIMARY KEY, FOREIGN KEY or CHECK).
func IsConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
