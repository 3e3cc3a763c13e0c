// Package pgstore provides a PostgreSQL implementation of dispatch.AuditStore.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/payslipd/internal/dispatch/pgstore")

//go:embed schema.sql
var schema string

// Store persists send audit records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The pool is owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// RecordSend inserts rec. Recording the same run ID twice overwrites the
// counters.
func (s *Store) RecordSend(ctx context.Context, rec *dispatch.Record) error {
	ctx, span := tracer.Start(ctx, "dispatch.pgstore.RecordSend", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("payslipd.run.id", rec.ID),
	))
	defer span.End()
	ctx = postgres.WithTags(ctx, postgres.Tags{Store: "send_audit", RunID: rec.ID, Unit: rec.Unit})

	_, err := s.pool.Exec(ctx, `
		INSERT INTO send_audit (id, unit, subject, total, processed, failed, dry_run, test_recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			total     = EXCLUDED.total,
			processed = EXCLUDED.processed,
			failed    = EXCLUDED.failed`,
		rec.ID, rec.Unit, rec.Subject, rec.Total, rec.Processed, rec.Failed,
		rec.DryRun, rec.TestRecipient, rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns one page of records, newest first.
func (s *Store) List(ctx context.Context, q dispatch.HistoryQuery) ([]dispatch.Record, int, error) {
	q = q.Normalize()
	ctx, span := tracer.Start(ctx, "dispatch.pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("payslipd.unit", q.Unit),
		attribute.Int("payslipd.history.page", q.Page),
	))
	defer span.End()
	ctx = postgres.WithTags(ctx, postgres.Tags{Store: "send_audit", Unit: q.Unit})

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM send_audit WHERE ($1 = '' OR unit = $1)`, q.Unit,
	).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, unit, subject, total, processed, failed, dry_run, test_recipient, created_at
		FROM send_audit
		WHERE ($1 = '' OR unit = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		q.Unit, q.Limit, q.Offset(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("query audit records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (dispatch.Record, error) {
		var r dispatch.Record
		err := row.Scan(&r.ID, &r.Unit, &r.Subject, &r.Total, &r.Processed, &r.Failed,
			&r.DryRun, &r.TestRecipient, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("scan audit records: %w", err)
	}
	span.SetAttributes(attribute.Int("payslipd.history.total", total))
	return recs, total, nil
}
