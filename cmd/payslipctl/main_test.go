package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/dispatch/sqlitestore"
	"github.com/linnemanlabs/payslipd/internal/payslip"
	"github.com/linnemanlabs/payslipd/internal/testpdf"
)

const rosterCSV = "nome;email;unidade;cpf\n" +
	"João Silva;joao@example.com;MATRIZ;111.111.111-11\n" +
	"Maria Santos;maria@example.com;MATRIZ;222.222.222-22\n" +
	"Ana Costa;ana@example.com;FILIAL;\n"

func slip(name, taxID string) []string {
	return []string{
		"RECIBO DE PAGAMENTO DE SALARIO",
		name,
		"CPF " + taxID,
		"Salario Base 1.500,00",
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func payroll(t *testing.T) string {
	t.Helper()
	doc := testpdf.Build(
		testpdf.Single(slip("João Silva", "111.111.111-11")...),
		testpdf.Single(slip("Maria Santos", "222.222.222-22")...),
		testpdf.Single(slip("Carlos Pereira", "999.999.999-99")...),
	)
	return writeFile(t, "folha.pdf", doc)
}

func TestProcess_Table(t *testing.T) {
	roster := writeFile(t, "roster.csv", []byte(rosterCSV))

	out, err := runCLI(t, "process", payroll(t), "--unit", "MATRIZ", "--roster-file", roster)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	requireContains(t, out, "Recipients")
	requireContains(t, out, "joao@example.com")
	requireContains(t, out, "maria@example.com")
	requireContains(t, out, "Unmatched segments")
	requireContains(t, out, "no roster match")
	requireContains(t, out, "Would send 2 message(s)")
}

func TestProcess_JSON(t *testing.T) {
	roster := writeFile(t, "roster.csv", []byte(rosterCSV))

	out, err := runCLI(t, "process", payroll(t), "-u", "MATRIZ", "--roster-file", roster, "--json")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var got payslip.Outcome
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode outcome: %v\n%s", err, out)
	}
	if got.Stats.Recipients != 2 || got.Stats.ResolutionFailures != 1 {
		t.Errorf("stats = %+v, want 2 recipients and 1 resolution failure", got.Stats)
	}
	if got.Result == nil || got.Result.Preview == nil || got.Result.Preview.Total != 2 {
		t.Fatalf("result = %+v, want a dry-run preview of 2", got.Result)
	}
}

func TestProcess_TestRecipient(t *testing.T) {
	roster := writeFile(t, "roster.csv", []byte(rosterCSV))

	out, err := runCLI(t, "process", payroll(t), "-u", "MATRIZ", "--roster-file", roster, "--test-recipient", "qa@example.com")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	requireContains(t, out, "qa@example.com")
	if strings.Contains(out, "joao@example.com") {
		t.Errorf("test recipient preview lists real addresses:\n%s", out)
	}
}

func TestProcess_Errors(t *testing.T) {
	roster := writeFile(t, "roster.csv", []byte(rosterCSV))
	doc := payroll(t)
	notPDF := writeFile(t, "notes.pdf", []byte("hello"))

	tests := []struct {
		name  string
		args  []string
		check func(error) bool
	}{
		{"no roster", []string{"process", doc, "-u", "MATRIZ"}, func(err error) bool { return errors.Is(err, errNoRoster) }},
		{"missing unit flag", []string{"process", doc, "--roster-file", roster}, nil},
		{"missing file", []string{"process", filepath.Join(t.TempDir(), "x.pdf"), "-u", "MATRIZ", "--roster-file", roster}, nil},
		{"bad layout", []string{"process", doc, "-u", "MATRIZ", "--roster-file", roster, "--layout", "fourup"}, nil},
		{"unknown unit", []string{"process", doc, "-u", "NOWHERE", "--roster-file", roster}, func(err error) bool { return errors.Is(err, payslip.ErrUnitNotFound) }},
		{"not a pdf", []string{"process", notPDF, "-u", "MATRIZ", "--roster-file", roster}, func(err error) bool {
			var ve *payslip.ValidationError
			return errors.As(err, &ve)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.check != nil && !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestHistory_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	st, err := sqlitestore.Open(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	recs := []*dispatch.Record{
		{ID: "RUN-A", Unit: "MATRIZ", Subject: "Holerite março", Total: 2, Processed: 2, CreatedAt: base},
		{ID: "RUN-B", Unit: "FILIAL", Subject: "Holerite março", Total: 1, DryRun: true, CreatedAt: base.Add(time.Minute)},
	}
	for _, r := range recs {
		if err := st.RecordSend(ctx, r); err != nil {
			t.Fatalf("RecordSend: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := runCLI(t, "history", "--audit-sqlite-path", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "RUN-A")
	requireContains(t, out, "RUN-B")
	requireContains(t, out, "2 of 2")

	out, err = runCLI(t, "history", "--audit-sqlite-path", path, "--unit", "FILIAL")
	if err != nil {
		t.Fatalf("history --unit: %v", err)
	}
	requireContains(t, out, "RUN-B")
	if strings.Contains(out, "RUN-A") {
		t.Errorf("unit filter leaked other units:\n%s", out)
	}
}

func TestHistory_Errors(t *testing.T) {
	if _, err := runCLI(t, "history"); err == nil {
		t.Error("expected error without an audit store")
	}
	if _, err := runCLI(t, "history", "--audit-sqlite-path", filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Error("expected error for a missing audit file")
	}
}

func TestRosterUnits(t *testing.T) {
	roster := writeFile(t, "roster.csv", []byte(rosterCSV))

	out, err := runCLI(t, "roster", "units", "--roster-file", roster)
	if err != nil {
		t.Fatalf("roster units: %v", err)
	}
	requireContains(t, out, "MATRIZ")
	requireContains(t, out, "FILIAL")
	requireContains(t, out, "3")
}

func TestRosterImport_NeedsDatabase(t *testing.T) {
	roster := writeFile(t, "roster.csv", []byte(rosterCSV))

	_, err := runCLI(t, "roster", "import", roster)
	if err == nil || !strings.Contains(err.Error(), "--database-url") {
		t.Fatalf("err = %v, want a database-url error", err)
	}
}
