package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/dispatch/pgstore"
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
		_, _ = pool.Exec(context.Background(), `DELETE FROM send_audit WHERE unit LIKE 'pgstore-test-%'`)
	})
	return s
}

func TestRecordSendAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	recs := []dispatch.Record{
		{ID: "pgstore-test-run-1", Unit: "pgstore-test-a", Subject: "Holerite", Total: 2, Processed: 2, CreatedAt: base},
		{ID: "pgstore-test-run-2", Unit: "pgstore-test-a", Subject: "Holerite", Total: 3, DryRun: true, CreatedAt: base.Add(time.Second)},
		{ID: "pgstore-test-run-3", Unit: "pgstore-test-b", Subject: "Holerite", Total: 1, Processed: 0, Failed: 1, TestRecipient: "qa@example.com", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range recs {
		if err := s.RecordSend(ctx, &recs[i]); err != nil {
			t.Fatalf("RecordSend: %v", err)
		}
	}

	got, total, err := s.List(ctx, dispatch.HistoryQuery{Unit: "pgstore-test-a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("total = %d, len = %d, want 2, 2", total, len(got))
	}
	if got[0].ID != "pgstore-test-run-2" || !got[0].DryRun {
		t.Errorf("got[0] = %+v, want newest dry-run record", got[0])
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got[1].CreatedAt, base)
	}

	got, total, err = s.List(ctx, dispatch.HistoryQuery{Unit: "pgstore-test-b", Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || got[0].TestRecipient != "qa@example.com" || got[0].Failed != 1 {
		t.Errorf("unit b = %+v (total %d)", got, total)
	}
}

func TestRecordSend_OverwritesCounters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rec := dispatch.Record{ID: "pgstore-test-run-x", Unit: "pgstore-test-x", Total: 5, CreatedAt: time.Now().UTC()}
	if err := s.RecordSend(ctx, &rec); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}
	rec.Processed, rec.Failed = 4, 1
	if err := s.RecordSend(ctx, &rec); err != nil {
		t.Fatalf("RecordSend again: %v", err)
	}

	got, total, err := s.List(ctx, dispatch.HistoryQuery{Unit: "pgstore-test-x"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || got[0].Processed != 4 || got[0].Failed != 1 {
		t.Errorf("got %+v (total %d), want one record 4/1", got, total)
	}
}
