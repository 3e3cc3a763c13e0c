package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/payslipd/internal/roster"
	"github.com/linnemanlabs/payslipd/internal/roster/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("PAYSLIPD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PAYSLIPD_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM employees WHERE unit LIKE 'pgstore-test-%'`)
	})
	return s
}

func TestUpsertAndFindByUnit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	entries := []roster.Entry{
		{ID: "pgstore-test-1", FullName: "João Silva", Email: "joao@example.com", Unit: "pgstore-test-centro"},
		{ID: "pgstore-test-2", FullName: "Maria Santos", Email: "maria@example.com", Unit: "pgstore-test-centro"},
		{ID: "pgstore-test-3", FullName: "Ana Lima", Email: "ana@example.com", Unit: "pgstore-test-norte"},
	}
	if err := s.Upsert(ctx, entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.FindByUnit(ctx, "pgstore-test-centro")
	if err != nil {
		t.Fatalf("FindByUnit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].NormalizedName != "JOAO SILVA" {
		t.Errorf("NormalizedName = %q, want JOAO SILVA", got[0].NormalizedName)
	}

	entries[0].Email = "joao.silva@example.com"
	if err := s.Upsert(ctx, entries[:1]); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	got, err = s.FindByUnit(ctx, "pgstore-test-centro")
	if err != nil {
		t.Fatalf("FindByUnit: %v", err)
	}
	if got[0].Email != "joao.silva@example.com" {
		t.Errorf("Email = %q after update", got[0].Email)
	}
}

func TestUnits(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []roster.Entry{
		{ID: "pgstore-test-u1", FullName: "A B", Unit: "pgstore-test-units"},
		{ID: "pgstore-test-u2", FullName: "C D", Unit: "pgstore-test-units"},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	units, err := s.Units(ctx)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	for _, u := range units {
		if u.Unit == "pgstore-test-units" {
			if u.Employees != 2 {
				t.Errorf("Employees = %d, want 2", u.Employees)
			}
			return
		}
	}
	t.Error("unit pgstore-test-units not listed")
}
