// Package pgstore provides a PostgreSQL implementation of roster.Store.
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

	"github.com/linnemanlabs/payslipd/internal/identity"
	"github.com/linnemanlabs/payslipd/internal/postgres"
	"github.com/linnemanlabs/payslipd/internal/roster"
)

var tracer = otel.Tracer("github.com/linnemanlabs/payslipd/internal/roster/pgstore")

//go:embed schema.sql
var schema string

// Store reads the employee roster from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The pool is owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply roster schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const entryColumns = `id, full_name, normalized_name, email, unit, tax_id`

// FindByUnit returns the unit's entries ordered by insertion time, then id.
func (s *Store) FindByUnit(ctx context.Context, unit string) ([]roster.Entry, error) {
	ctx, span := tracer.Start(ctx, "roster.pgstore.FindByUnit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("payslipd.unit", unit),
	))
	defer span.End()
	ctx = postgres.WithTags(ctx, postgres.Tags{Store: "employees", Unit: unit})

	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM employees WHERE unit = $1 ORDER BY created_at, id`, unit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query employees: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (roster.Entry, error) {
		var e roster.Entry
		err := row.Scan(&e.ID, &e.FullName, &e.NormalizedName, &e.Email, &e.Unit, &e.TaxID)
		return e, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scan employees: %w", err)
	}
	span.SetAttributes(attribute.Int("payslipd.roster.size", len(entries)))
	return entries, nil
}

// Units lists every unit with its entry count.
func (s *Store) Units(ctx context.Context) ([]roster.UnitCount, error) {
	ctx, span := tracer.Start(ctx, "roster.pgstore.Units", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()
	ctx = postgres.WithTags(ctx, postgres.Tags{Store: "employees"})

	rows, err := s.pool.Query(ctx,
		`SELECT unit, count(*) FROM employees GROUP BY unit ORDER BY unit`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query units: %w", err)
	}
	units, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (roster.UnitCount, error) {
		var u roster.UnitCount
		err := row.Scan(&u.Unit, &u.Employees)
		return u, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scan units: %w", err)
	}
	return units, nil
}

// Upsert inserts or updates entries in one transaction. NormalizedName is
// computed when empty.
func (s *Store) Upsert(ctx context.Context, entries []roster.Entry) error {
	ctx, span := tracer.Start(ctx, "roster.pgstore.Upsert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.Int("payslipd.roster.size", len(entries)),
	))
	defer span.End()
	ctx = postgres.WithTags(ctx, postgres.Tags{Store: "employees"})

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.NormalizedName == "" {
			e.NormalizedName = identity.Normalize(e.FullName)
		}
		batch.Queue(`INSERT INTO employees (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				full_name       = EXCLUDED.full_name,
				normalized_name = EXCLUDED.normalized_name,
				email           = EXCLUDED.email,
				unit            = EXCLUDED.unit,
				tax_id          = EXCLUDED.tax_id`,
			e.ID, e.FullName, e.NormalizedName, e.Email, e.Unit, e.TaxID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert employees: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
