package payslipapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/payslip"
	"github.com/linnemanlabs/payslipd/internal/roster"
)

var testPDF = []byte("%PDF-1.4\n%test\n")

// mockService implements PayslipService for testing.
type mockService struct {
	mu       sync.Mutex
	requests []*payslip.Request
	queries  []dispatch.HistoryQuery
	outcome  *payslip.Outcome
	err      error
	units    []roster.UnitCount
	records  []dispatch.Record
}

func (m *mockService) Process(_ context.Context, req *payslip.Request) (*payslip.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.outcome != nil {
		return m.outcome, nil
	}
	return &payslip.Outcome{
		RunID:  "01RUN",
		Unit:   req.Unit,
		Result: &dispatch.Result{RunID: "01RUN", Processed: 2, Total: 2},
	}, nil
}

func (m *mockService) History(_ context.Context, q dispatch.HistoryQuery) ([]dispatch.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.records, len(m.records), nil
}

func (m *mockService) Units(_ context.Context) ([]roster.UnitCount, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.units, nil
}

func (m *mockService) lastRequest() *payslip.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func newTestRouter(t *testing.T, svc *mockService, opts ...Option) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(log.Nop(), svc, opts...).RegisterRoutes(r)
	return r
}

// upload builds a multipart request. fileField may be empty to omit the file.
func upload(t *testing.T, fileField string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "holerites.pdf")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payslips/process", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	a := New(nil, &mockService{})
	if a.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
	if a.maxUpload != DefaultMaxUploadBytes {
		t.Errorf("maxUpload = %d, want %d", a.maxUpload, DefaultMaxUploadBytes)
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

func TestProcess_Success(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, upload(t, "file", testPDF, map[string]string{
		"unidade":       "MATRIZ",
		"subject":       "Holerite de março",
		"message":       "Olá {{nome}}",
		"dryRun":        "false",
		"confirm":       "YES",
		"batchSize":     "10",
		"testRecipient": "qa@example.com",
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if resp["success"] != true || resp["unidade"] != "MATRIZ" || resp["runId"] != "01RUN" || resp["processed"] != float64(2) {
		t.Errorf("response = %v", resp)
	}

	got := svc.lastRequest()
	if got == nil {
		t.Fatal("service not called")
	}
	if got.Unit != "MATRIZ" || got.Subject != "Holerite de março" || got.Message != "Olá {{nome}}" {
		t.Errorf("request = %+v", got)
	}
	if !got.Confirm || got.DryRun || got.BatchSize != 10 || got.TestRecipient != "qa@example.com" {
		t.Errorf("switches = %+v", got)
	}
	if got.Filename != "holerites.pdf" || !bytes.Equal(got.PDF, testPDF) {
		t.Errorf("file = %q (%d bytes)", got.Filename, len(got.PDF))
	}
}

func TestProcess_AcceptsPdfFileField(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	rec := httptest.NewRecorder()
	newTestRouter(t, svc).ServeHTTP(rec, upload(t, "pdfFile", testPDF, map[string]string{"unidade": "MATRIZ"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.lastRequest().Confirm {
		t.Error("confirm should default to false")
	}
}

func TestProcess_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		field  string
		fields map[string]string
		want   string
	}{
		{"missing unit", "file", map[string]string{}, "unidade is required"},
		{"missing file", "", map[string]string{"unidade": "MATRIZ"}, "file is required"},
		{"bad dryRun", "file", map[string]string{"unidade": "MATRIZ", "dryRun": "maybe"}, "invalid dryRun"},
		{"bad batchSize", "file", map[string]string{"unidade": "MATRIZ", "batchSize": "ten"}, "invalid batchSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockService{}
			rec := httptest.NewRecorder()
			newTestRouter(t, svc).ServeHTTP(rec, upload(t, tt.field, testPDF, tt.fields))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decode(t, rec); !strings.Contains(resp["error"].(string), tt.want) {
				t.Errorf("error = %v, want %q", resp["error"], tt.want)
			}
			if svc.lastRequest() != nil {
				t.Error("service called for a bad request")
			}
		})
	}
}

func TestProcess_NotMultipart(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payslips/process", strings.NewReader(`{"unidade":"MATRIZ"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestRouter(t, &mockService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcess_TooLarge(t *testing.T) {
	t.Parallel()

	big := append(append([]byte{}, testPDF...), bytes.Repeat([]byte("x"), 4096)...)
	rec := httptest.NewRecorder()
	newTestRouter(t, &mockService{}, WithMaxUploadBytes(1024)).ServeHTTP(rec, upload(t, "file", big, map[string]string{"unidade": "MATRIZ"}))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestProcess_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &payslip.ValidationError{Reason: "file is not a PDF"}, http.StatusBadRequest},
		{"strict abort", &payslip.ValidationError{Reason: "dispatch aborted", Err: &dispatch.ValidationError{Reason: "1 recipient has no valid email"}}, http.StatusBadRequest},
		{"unit not found", fmt.Errorf("%w: NOWHERE", payslip.ErrUnitNotFound), http.StatusNotFound},
		{"unexpected", errors.New("database down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			newTestRouter(t, &mockService{err: tt.err}).ServeHTTP(rec, upload(t, "file", testPDF, map[string]string{"unidade": "MATRIZ"}))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			resp := decode(t, rec)
			if resp["success"] != false {
				t.Errorf("success = %v, want false", resp["success"])
			}
			if tt.want == http.StatusInternalServerError && resp["error"] != "internal error" {
				t.Errorf("500 leaked %v", resp["error"])
			}
		})
	}
}

func TestProcess_GuardRequiresConfirmation(t *testing.T) {
	t.Parallel()

	svc := &mockService{outcome: &payslip.Outcome{
		RunID:  "01RUN",
		Unit:   "MATRIZ",
		Result: &dispatch.Result{RunID: "01RUN", Total: 51, Guard: &dispatch.Guard{Count: 51, Threshold: 50}},
	}}
	rec := httptest.NewRecorder()
	newTestRouter(t, svc).ServeHTTP(rec, upload(t, "file", testPDF, map[string]string{"unidade": "MATRIZ"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decode(t, rec)
	if resp["requiresConfirmation"] != true || resp["total"] != float64(51) || resp["threshold"] != float64(50) {
		t.Errorf("response = %v", resp)
	}
}

func TestProcess_DryRunPreview(t *testing.T) {
	t.Parallel()

	svc := &mockService{outcome: &payslip.Outcome{
		RunID:  "01RUN",
		Unit:   "MATRIZ",
		Result: &dispatch.Result{Total: 7, Preview: &dispatch.Preview{Sample: []string{"a@example.com"}, Total: 7}},
	}}
	rec := httptest.NewRecorder()
	newTestRouter(t, svc).ServeHTTP(rec, upload(t, "file", testPDF, map[string]string{"unidade": "MATRIZ", "dryRun": "true"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode(t, rec)
	if resp["dryRun"] != true || resp["preview"] == nil {
		t.Errorf("response = %v", resp)
	}
	if !svc.lastRequest().DryRun {
		t.Error("dryRun not forwarded")
	}
}

func TestConfirmed(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"YES": true, "yes": true, "true": true, "1": true,
		"": false, "no": false, "false": false, "sim": false,
	}
	for in, want := range tests {
		if got := confirmed(in); got != want {
			t.Errorf("confirmed(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	svc := &mockService{records: []dispatch.Record{{ID: "01A", Unit: "MATRIZ", Total: 3, Processed: 3}}}
	r := newTestRouter(t, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payslips/history?unidade=MATRIZ&page=2&limit=500", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp historyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Records) != 1 || resp.Page != 2 || resp.Limit != dispatch.MaxHistoryLimit {
		t.Errorf("response = %+v", resp)
	}
	if q := svc.queries[0]; q.Unit != "MATRIZ" || q.Page != 2 || q.Limit != dispatch.MaxHistoryLimit {
		t.Errorf("query = %+v", q)
	}
}

func TestHistory_BadParams(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockService{})
	for _, path := range []string{"/api/v1/payslips/history?page=x", "/api/v1/payslips/history?limit=y"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, rec.Code)
		}
	}
}

func TestHistory_HugePageIsClamped(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	rec := httptest.NewRecorder()
	newTestRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payslips/history?page=461168601842738793", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	q := svc.queries[0]
	if q.Page != dispatch.MaxHistoryPage || q.Offset() < 0 {
		t.Errorf("query = %+v offset %d, want page clamped to %d", q, q.Offset(), dispatch.MaxHistoryPage)
	}
}

func TestHistory_EmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestRouter(t, &mockService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payslips/history", http.NoBody))

	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUnits(t *testing.T) {
	t.Parallel()

	svc := &mockService{units: []roster.UnitCount{{Unit: "FILIAL", Employees: 4}, {Unit: "MATRIZ", Employees: 12}}}
	rec := httptest.NewRecorder()
	newTestRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/units", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Units []roster.UnitCount `json:"units"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Units) != 2 || resp.Units[1].Employees != 12 {
		t.Errorf("units = %+v", resp.Units)
	}
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockService{err: errors.New("boom")})
	for _, path := range []string{"/api/v1/payslips/history", "/api/v1/units"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("GET %s = %d, want 500", path, rec.Code)
		}
	}
}

func TestRegisterRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockService{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/payslips/process"},
		{http.MethodPut, "/api/v1/payslips/process"},
		{http.MethodPost, "/api/v1/payslips/history"},
		{http.MethodDelete, "/api/v1/units"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, http.NoBody))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s = %d, want 405", tt.method, tt.path, rec.Code)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockService{})
	for _, path := range []string{"/", "/api/v1", "/api/v2/units", "/api/v1/payslips", "/api/v1/unknown"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}
