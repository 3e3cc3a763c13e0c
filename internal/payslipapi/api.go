// Package payslipapi exposes the payslip pipeline over HTTP.
package payslipapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/payslip"
	"github.com/linnemanlabs/payslipd/internal/roster"
)

// DefaultMaxUploadBytes bounds an uploaded document.
const DefaultMaxUploadBytes = 50 << 20

// PayslipService defines the business operations payslipapi needs.
type PayslipService interface {
	Process(ctx context.Context, req *payslip.Request) (*payslip.Outcome, error)
	History(ctx context.Context, q dispatch.HistoryQuery) ([]dispatch.Record, int, error)
	Units(ctx context.Context) ([]roster.UnitCount, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       PayslipService
	maxUpload int64
}

// Option configures an API.
type Option func(*API)

// WithMaxUploadBytes overrides DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUpload = n
		}
	}
}

// New creates a new API handler.
func New(logger log.Logger, svc PayslipService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("payslip service is required"))
	}
	a := &API{
		logger:    logger,
		svc:       svc,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payslips/process", a.handleProcess)
		r.Get("/payslips/history", a.handleHistory)
		r.Get("/units", a.handleUnits)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
