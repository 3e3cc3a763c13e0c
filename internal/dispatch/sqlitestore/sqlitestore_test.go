package sqlitestore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/dispatch/sqlitestore"
)

func openStore(t *testing.T) (*sqlitestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	s, err := sqlitestore.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestRecordSendAndList(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	for i := range 5 {
		unit := "MATRIZ"
		if i == 2 {
			unit = "FILIAL"
		}
		rec := &dispatch.Record{
			ID:        fmt.Sprintf("run-%d", i),
			Unit:      unit,
			Subject:   "Holerite",
			Total:     10,
			Processed: 10 - i,
			Failed:    i,
			DryRun:    i == 4,
			CreatedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
		}
		if err := s.RecordSend(ctx, rec); err != nil {
			t.Fatalf("RecordSend: %v", err)
		}
	}

	recs, total, err := s.List(ctx, dispatch.HistoryQuery{Unit: "MATRIZ", Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, want := range []string{"run-4", "run-3", "run-1"} {
		if recs[i].ID != want {
			t.Errorf("recs[%d].ID = %q, want %q", i, recs[i].ID, want)
		}
	}
	if !recs[0].DryRun || recs[1].DryRun {
		t.Errorf("DryRun flags = %v, %v", recs[0].DryRun, recs[1].DryRun)
	}
	if want := base.Add(2 * time.Second); !recs[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", recs[0].CreatedAt, want)
	}

	page2, _, err := s.List(ctx, dispatch.HistoryQuery{Unit: "MATRIZ", Page: 2, Limit: 3})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != "run-0" {
		t.Errorf("page 2 = %+v, want run-0", page2)
	}

	all, total, err := s.List(ctx, dispatch.HistoryQuery{})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Errorf("all: total = %d, len = %d, want 5, 5", total, len(all))
	}
}

func TestRecordSend_Upsert(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()

	rec := &dispatch.Record{ID: "run-x", Unit: "MATRIZ", Total: 3, TestRecipient: "qa@example.com", CreatedAt: time.Now()}
	if err := s.RecordSend(ctx, rec); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}
	rec.Processed, rec.Failed = 2, 1
	if err := s.RecordSend(ctx, rec); err != nil {
		t.Fatalf("RecordSend again: %v", err)
	}

	recs, total, err := s.List(ctx, dispatch.HistoryQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || recs[0].Processed != 2 || recs[0].Failed != 1 || recs[0].TestRecipient != "qa@example.com" {
		t.Errorf("got %+v (total %d)", recs, total)
	}
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	s, path := openStore(t)
	ctx := context.Background()
	if err := s.RecordSend(ctx, &dispatch.Record{ID: "persisted", Unit: "MATRIZ", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}
	_ = s.Close()

	s2, err := sqlitestore.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	recs, _, err := s2.List(ctx, dispatch.HistoryQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "persisted" {
		t.Errorf("records after reopen = %+v", recs)
	}
}

func TestOpen_SchemaMismatch(t *testing.T) {
	t.Parallel()

	s, path := openStore(t)
	_ = s.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := sqlitestore.Open(context.Background(), path); !errors.Is(err, sqlitestore.ErrSchemaMismatch) {
		t.Fatalf("Open err = %v, want ErrSchemaMismatch", err)
	}
}
