package payslipapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/payslip"
)

// multipart parts beyond this size spill to temporary files
const memoryLimit = 8 << 20

type processResponse struct {
	Success              bool                  `json:"success"`
	RunID                string                `json:"runId,omitempty"`
	Unidade              string                `json:"unidade"`
	Processed            int                   `json:"processed"`
	Failed               int                   `json:"failed"`
	Total                int                   `json:"total"`
	DryRun               bool                  `json:"dryRun,omitempty"`
	TestRecipient        string                `json:"testRecipient,omitempty"`
	RequiresConfirmation bool                  `json:"requiresConfirmation,omitempty"`
	Threshold            int                   `json:"threshold,omitempty"`
	Preview              *dispatch.Preview     `json:"preview,omitempty"`
	Items                []dispatch.ItemResult `json:"items,omitempty"`
	Stats                payslip.Stats         `json:"stats"`
	Unmatched            []payslip.Unmatched   `json:"unmatched,omitempty"`
	AuditError           string                `json:"auditError,omitempty"`
	Error                string                `json:"error,omitempty"`
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)

	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", a.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("payslipd.unit", req.Unit),
		attribute.Int("payslipd.upload.bytes", len(req.PDF)),
		attribute.Bool("payslipd.dispatch.dry_run", req.DryRun),
	)

	out, err := a.svc.Process(ctx, req)
	if err != nil {
		var ve *payslip.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		case errors.Is(err, payslip.ErrUnitNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("no employees found for unit %q", req.Unit))
		default:
			a.logger.Error(ctx, err, "failed to process payslips", "unit", req.Unit)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	span.SetAttributes(attribute.String("payslipd.run.id", out.RunID))

	resp := processResponse{
		Success:       true,
		RunID:         out.RunID,
		Unidade:       out.Unit,
		DryRun:        req.DryRun,
		TestRecipient: strings.TrimSpace(req.TestRecipient),
		Stats:         out.Stats,
		Unmatched:     out.Unmatched,
	}
	res := out.Result
	resp.Processed, resp.Failed, resp.Total = res.Processed, res.Failed, res.Total
	resp.Items, resp.Preview, resp.AuditError = res.Items, res.Preview, res.AuditError

	if res.Guard != nil {
		resp.Success = false
		resp.RequiresConfirmation = true
		resp.Threshold = res.Guard.Threshold
		resp.Error = fmt.Sprintf("%d recipients exceed the confirmation threshold of %d; resend with confirm=YES", res.Guard.Count, res.Guard.Threshold)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseRequest(r *http.Request) (*payslip.Request, error) {
	unit := strings.TrimSpace(r.FormValue("unidade"))
	if unit == "" {
		unit = strings.TrimSpace(r.FormValue("unit"))
	}
	if unit == "" {
		return nil, errors.New("unidade is required")
	}

	doc, name, err := readFile(r)
	if err != nil {
		return nil, err
	}

	req := &payslip.Request{
		Unit:          unit,
		Filename:      name,
		PDF:           doc,
		Subject:       r.FormValue("subject"),
		Message:       r.FormValue("message"),
		Confirm:       confirmed(r.FormValue("confirm")),
		TestRecipient: r.FormValue("testRecipient"),
	}

	if v := strings.TrimSpace(r.FormValue("dryRun")); v != "" {
		if req.DryRun, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid dryRun %q", v)
		}
	}
	if v := strings.TrimSpace(r.FormValue("batchSize")); v != "" {
		if req.BatchSize, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid batchSize %q", v)
		}
	}
	return req, nil
}

func readFile(r *http.Request) ([]byte, string, error) {
	var (
		f   multipart.File
		hdr *multipart.FileHeader
		err error
	)
	for _, field := range []string{"file", "pdfFile"} {
		if f, hdr, err = r.FormFile(field); err == nil {
			break
		}
	}
	if err != nil {
		return nil, "", errors.New("file is required")
	}
	defer func() { _ = f.Close() }()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(b) == 0 {
		return nil, "", errors.New("file is empty")
	}
	return b, hdr.Filename, nil
}

func confirmed(v string) bool {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "YES") {
		return true
	}
	ok, _ := strconv.ParseBool(v)
	return ok
}
