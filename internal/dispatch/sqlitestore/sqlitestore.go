// Package sqlitestore provides a SQLite implementation of dispatch.AuditStore
// for single-node deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// timestamps are fixed-width UTC so text ordering is chronological
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists send audit records in a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// RecordSend inserts rec, overwriting the counters of an existing run ID.
func (s *Store) RecordSend(ctx context.Context, rec *dispatch.Record) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_audit (id, unit, subject, total, processed, failed, dry_run, test_recipient, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			total     = excluded.total,
			processed = excluded.processed,
			failed    = excluded.failed`,
		rec.ID, rec.Unit, rec.Subject, rec.Total, rec.Processed, rec.Failed,
		rec.DryRun, rec.TestRecipient, created.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns one page of records, newest first.
func (s *Store) List(ctx context.Context, q dispatch.HistoryQuery) ([]dispatch.Record, int, error) {
	q = q.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM send_audit WHERE (? = '' OR unit = ?)`, q.Unit, q.Unit,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit, subject, total, processed, failed, dry_run, test_recipient, created_at
		FROM send_audit
		WHERE (? = '' OR unit = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		q.Unit, q.Unit, q.Limit, q.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var recs []dispatch.Record
	for rows.Next() {
		var (
			r       dispatch.Record
			created string
		)
		if err := rows.Scan(&r.ID, &r.Unit, &r.Subject, &r.Total, &r.Processed, &r.Failed,
			&r.DryRun, &r.TestRecipient, &created); err != nil {
			return nil, 0, fmt.Errorf("scan audit record: %w", err)
		}
		if r.CreatedAt, err = time.Parse(tsLayout, created); err != nil {
			return nil, 0, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit records: %w", err)
	}
	return recs, total, nil
}
