// Package store implements the persistence core: a single-file SQLite
// database with a cooperative single-writer policy. Every write
// transaction holds the process-wide write token; reads never do.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrBusy is returned when the write token cannot be acquired within
// WriteTimeout. It maps to a retryable 503 at the boundary.
var ErrBusy = errors.New("store busy: write token acquisition timed out")

// WriteTimeout bounds how long a writer waits for the token.
const WriteTimeout = 5 * time.Second

type DB struct {
	*sqlx.DB

	// writeToken serializes write transactions. Buffered with one slot;
	// holding the token means having drained the slot.
	writeToken chan struct{}
}

func NewSQLiteDB(dsn string) (*DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Set pragmas for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Column additions run before the schema sync so older databases
	// catch up without losing data.
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &DB{
		DB:         db,
		writeToken: make(chan struct{}, 1),
	}
	s.writeToken <- struct{}{}
	return s, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// acquireWrite takes the write token, failing with ErrBusy after
// WriteTimeout. The returned release must be called exactly once.
func (db *DB) acquireWrite(ctx context.Context) (func(), error) {
	timer := time.NewTimer(WriteTimeout)
	defer timer.Stop()

	select {
	case <-db.writeToken:
		return func() { db.writeToken <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrBusy
	}
}

// WithWrite runs fn inside a transaction while holding the write token.
func (db *DB) WithWrite(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	release, err := db.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// IsBusy reports whether err indicates transient store contention: the
// write-token timeout, SQLite's BUSY/LOCKED result codes, or the generic
// locked message. All of these are safe to retry.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		// Mask off the extended result code bits.
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	return strings.Contains(err.Error(), "database is locked")
}

// IsConstraint reports whether err is a constraint violation, such as a
// duplicate value on a unique index.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "constraint failed")
}
