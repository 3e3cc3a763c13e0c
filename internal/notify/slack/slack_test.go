package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/payslip"
)

func outcome(processed, failed int) *payslip.Outcome {
	res := &dispatch.Result{RunID: "01JN123", Processed: processed, Failed: failed, Total: processed + failed}
	for i := range processed {
		res.Items = append(res.Items, dispatch.ItemResult{Name: "OK " + string(rune('A'+i)), OK: true})
	}
	for range failed {
		res.Items = append(res.Items, dispatch.ItemResult{Name: "JOAO SILVA", Email: "joao@example.com", Error: "message rejected"})
	}
	return &payslip.Outcome{
		RunID:    "01JN123",
		Unit:     "MATRIZ",
		Stats:    payslip.Stats{Pages: 2, Segments: 4, Matched: 3},
		Result:   res,
		Duration: 3.2,
	}
}

func decodeServer(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func sectionText(block any) string {
	return block.(map[string]any)["text"].(map[string]any)["text"].(string)
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := decodeServer(t, &got)
	defer srv.Close()

	o := outcome(3, 1)
	o.Unmatched = []payslip.Unmatched{{Page: 2, Region: "bottom", Reason: "no roster match"}}

	if err := New(srv.URL, log.Nop()).Send(context.Background(), o); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, divider, detail, divider, context
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	header := sectionText(blocks[0])
	if !strings.Contains(header, "MATRIZ") || !strings.Contains(header, "\U0001f7e1") {
		t.Errorf("header = %q", header)
	}

	detail := sectionText(blocks[4])
	for _, want := range []string{"page 2 (bottom): no roster match", "JOAO SILVA <joao@example.com>: message rejected"} {
		if !strings.Contains(detail, want) {
			t.Errorf("detail %q does not contain %q", detail, want)
		}
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.Send(context.Background(), &payslip.Outcome{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_CapsUnmatchedList(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := decodeServer(t, &got)
	defer srv.Close()

	o := outcome(1, 0)
	for i := range 25 {
		o.Unmatched = append(o.Unmatched, payslip.Unmatched{Page: i + 1, Region: "full", Reason: "no roster match"})
	}
	if err := New(srv.URL, nil).Send(context.Background(), o); err != nil {
		t.Fatalf("Send: %v", err)
	}

	detail := sectionText(got["blocks"].([]any)[4])
	if n := strings.Count(detail, "• page"); n != maxUnmatchedLines {
		t.Errorf("listed %d unmatched segments, want %d", n, maxUnmatchedLines)
	}
	if !strings.Contains(detail, "and 15 more") {
		t.Errorf("detail = %q", detail)
	}
}

func TestStatusEmoji(t *testing.T) {
	t.Parallel()

	dry := outcome(0, 0)
	dry.Result.Preview = &dispatch.Preview{Total: 3}
	unmatched := outcome(2, 0)
	unmatched.Unmatched = []payslip.Unmatched{{Page: 1}}

	tests := []struct {
		name string
		o    *payslip.Outcome
		want string
	}{
		{"all sent", outcome(2, 0), "\U0001f7e2"},
		{"partial", outcome(2, 1), "\U0001f7e1"},
		{"all failed", outcome(0, 2), "\U0001f534"},
		{"unmatched", unmatched, "\U0001f7e1"},
		{"dry run", dry, "\U0001f535"},
		{"no result", &payslip.Outcome{}, "\U0001f535"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := statusEmoji(tt.o); got != tt.want {
				t.Errorf("statusEmoji = %q, want %q", got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("MATRIZ", "JOAO SILVA", "joao@example.com", "message rejected")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_", "~strike~", "```code```")
	f.Add("unit\x00\x01", "name\nline", "mail\ttab", "err\x00")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), "a@b.c", "timeout")

	f.Fuzz(func(t *testing.T, unit, name, email, reason string) {
		o := &payslip.Outcome{
			RunID: "fuzz-id",
			Unit:  unit,
			Unmatched: []payslip.Unmatched{
				{Page: 1, Region: "top", Reason: reason, Candidates: []string{name}},
			},
			Result: &dispatch.Result{
				Total: 1, Failed: 1,
				Items: []dispatch.ItemResult{{Name: name, Email: email, Error: reason}},
			},
		}

		data, err := json.Marshal(buildMessage(o))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 7 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Send(context.Background(), outcome(1, 0))
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
