// Package store implements the unified persistent store of the cleanup
// engine. Every entity the pipeline touches lives here, linked by enforced
// foreign keys; components never keep authoritative state in memory.
//
// The store is an embedded sqlite database in WAL mode with a single writer.
// Write contention surfaces as a Busy error and is retried with exponential
// backoff up to a bounded number of attempts; integrity violations and I/O
// failures are surfaced as typed errors and never retried.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	apperrors "music-cleanup/pkg/errors"
)

const (
	// maxBusyRetries bounds the exponential backoff on SQLITE_BUSY.
	maxBusyRetries = 8

	timeLayout = "2006-01-02T15:04:05Z"
)

// Store wraps the embedded database plus the workspace lock.
type Store struct {
	db          *sql.DB
	lock        *flock.Flock
	path        string
	logger      *logrus.Logger
	onBusyRetry func()
}

// Options configures Open.
type Options struct {
	// WorkspaceDir holds the store file, the lock file and archived legacy
	// stores.
	WorkspaceDir string
	// StoreFile is the database filename inside WorkspaceDir.
	StoreFile string
	Logger    *logrus.Logger
	// OnBusyRetry is invoked once per busy retry, for instrumentation.
	OnBusyRetry func()
}

// Open creates or opens the unified store, takes the workspace lock, and
// brings the schema forward to the current version (merging any legacy
// per-concern stores it finds next to it).
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.StoreFile == "" {
		opts.StoreFile = "music_cleanup.db"
	}
	if err := os.MkdirAll(opts.WorkspaceDir, 0o755); err != nil {
		return nil, apperrors.StoreError(apperrors.CodeStoreIO, "open", "create workspace dir").Wrap(err)
	}

	lock := flock.New(filepath.Join(opts.WorkspaceDir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeStoreIO, "open", "acquire workspace lock").Wrap(err)
	}
	if !locked {
		return nil, apperrors.StoreError(apperrors.CodeStoreBusy, "open", "workspace is locked by another process")
	}

	dbPath := filepath.Join(opts.WorkspaceDir, opts.StoreFile)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.Unlock()
		return nil, apperrors.StoreError(apperrors.CodeStoreIO, "open", "open database").Wrap(err)
	}
	// Single writer: the sqlite connection is shared across workers but
	// serialized here rather than in the driver.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, lock: lock, path: dbPath, logger: opts.Logger, onBusyRetry: opts.OnBusyRetry}

	if err := s.migrate(opts.WorkspaceDir); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	return s, nil
}

// Close releases the database and the workspace lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		s.lock.Unlock()
	}
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the raw handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// classify maps driver errors onto the store error taxonomy.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return apperrors.StoreError(apperrors.CodeStoreBusy, operation, "database busy").Wrap(err)
	case strings.Contains(msg, "FOREIGN KEY constraint"),
		strings.Contains(msg, "UNIQUE constraint"),
		strings.Contains(msg, "CHECK constraint"),
		strings.Contains(msg, "constraint failed"):
		return apperrors.StoreError(apperrors.CodeStoreIntegrity, operation, "constraint violation").
			WithSeverity(apperrors.SeverityCritical).Wrap(err)
	default:
		return apperrors.StoreError(apperrors.CodeStoreIO, operation, "database error").
			WithSeverity(apperrors.SeverityHigh).Wrap(err)
	}
}

// withRetry runs fn, retrying Busy errors with exponential backoff. Other
// errors pass straight through.
func (s *Store) withRetry(ctx context.Context, operation string, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxBusyRetries), ctx)
	return backoff.Retry(func() error {
		err := classify(operation, fn())
		if err == nil {
			return nil
		}
		if apperrors.IsBusy(err) {
			if s.onBusyRetry != nil {
				s.onBusyRetry()
			}
			s.logger.WithFields(logrus.Fields{
				"component": "store",
				"operation": operation,
			}).Debug("database busy, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// execRetry executes a statement under busy retry.
func (s *Store) execRetry(ctx context.Context, operation, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := s.withRetry(ctx, operation, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// InTx runs fn inside a database transaction with busy retry around the
// whole attempt. Any error rolls the transaction back.
func (s *Store) InTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, operation, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func fmtTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Legacy stores used RFC3339 with offsets.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
