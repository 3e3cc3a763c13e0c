package payslip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/identity"
	"github.com/linnemanlabs/payslipd/internal/roster"
	"github.com/linnemanlabs/payslipd/internal/segment"
)

// Notifier receives a summary of every run that reached the orchestrator.
type Notifier interface {
	Send(ctx context.Context, o *Outcome) error
}

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnProcessed func(unit string, s *Stats)
}

// Service is the business boundary for payslip processing.
type Service struct {
	roster       roster.Store
	audit        dispatch.AuditStore
	splitter     *segment.Splitter
	extractor    *identity.Extractor
	orchestrator *dispatch.Orchestrator
	defaults     dispatch.Options
	fuzzy        float64
	notifier     Notifier
	hooks        Hooks
	logger       log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaults sets the dispatch options every request starts from.
func WithDefaults(o dispatch.Options) Option {
	return func(s *Service) { s.defaults = o }
}

// WithExtractor replaces the default identity extractor.
func WithExtractor(x *identity.Extractor) Option {
	return func(s *Service) { s.extractor = x }
}

// WithFuzzyThreshold sets the similarity above which a fuzzy match is accepted.
func WithFuzzyThreshold(t float64) Option {
	return func(s *Service) { s.fuzzy = t }
}

// WithNotifier posts a run summary after each dispatch.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithHooks installs instrumentation callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// NewService creates a payslip service. All collaborators are required.
func NewService(rs roster.Store, splitter *segment.Splitter, orch *dispatch.Orchestrator, audit dispatch.AuditStore, logger log.Logger, opts ...Option) *Service {
	if rs == nil {
		panic(xerrors.New("roster store is required"))
	}
	if splitter == nil || orch == nil || audit == nil {
		panic(xerrors.New("splitter, orchestrator and audit store are required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		roster:       rs,
		audit:        audit,
		splitter:     splitter,
		orchestrator: orch,
		extractor:    identity.NewExtractor(),
		fuzzy:        identity.DefaultFuzzyThreshold,
		defaults:     dispatch.Options{BatchSize: dispatch.DefaultBatchSize, ConfirmThreshold: dispatch.DefaultConfirmThreshold},
		logger:       logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process runs the whole pipeline for req. Once dispatch starts it is not
// cancelled by ctx.
func (s *Service) Process(ctx context.Context, req *Request) (*Outcome, error) {
	start := time.Now()
	unit := strings.TrimSpace(req.Unit)
	switch {
	case unit == "":
		return nil, &ValidationError{Reason: "unit is required"}
	case len(req.PDF) == 0:
		return nil, &ValidationError{Reason: "file is required"}
	case !segment.HasSignature(req.PDF):
		return nil, &ValidationError{Reason: "file is not a PDF"}
	}

	entries, err := s.roster.FindByUnit(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("load roster for %q: %w", unit, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, unit)
	}

	runID := ulid.Make().String()
	L := s.logger.With("run_id", runID, "unit", unit)

	segs, err := s.splitter.Segment(ctx, req.PDF)
	if err != nil {
		var ve *segment.ValidationError
		if errors.As(err, &ve) {
			return nil, &ValidationError{Reason: "file is not a usable PDF", Err: err}
		}
		return nil, fmt.Errorf("segment document: %w", err)
	}

	resolver := identity.NewResolver(unit, entries, identity.WithFuzzyThreshold(s.fuzzy))
	plan := s.resolve(ctx, L, resolver, segs)

	items, err := buildItems(plan.groups)
	if err != nil {
		return nil, fmt.Errorf("assemble documents: %w", err)
	}
	plan.stats.Recipients = len(items)

	L.Info(ctx, "document resolved",
		"pages", plan.stats.Pages,
		"segments", plan.stats.Segments,
		"matched", plan.stats.Matched,
		"recipients", plan.stats.Recipients,
		"extraction_failures", plan.stats.ExtractionFailures,
		"resolution_failures", plan.stats.ResolutionFailures,
	)
	if s.hooks.OnProcessed != nil {
		s.hooks.OnProcessed(unit, &plan.stats)
	}

	opts := s.options(req)
	res, err := s.orchestrator.Run(context.WithoutCancel(ctx), &dispatch.Request{
		RunID:   runID,
		Unit:    unit,
		Subject: req.Subject,
		Message: req.Message,
		Items:   items,
		Options: opts,
	})
	if err != nil {
		var ve *dispatch.ValidationError
		if errors.As(err, &ve) {
			return nil, &ValidationError{Reason: "dispatch aborted", Err: err}
		}
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	out := &Outcome{
		RunID:     runID,
		Unit:      unit,
		Stats:     plan.stats,
		Unmatched: plan.unmatched,
		Result:    res,
		Duration:  time.Since(start).Seconds(),
	}

	if s.notifier != nil && res.Guard == nil {
		if err := s.notifier.Send(context.WithoutCancel(ctx), out); err != nil {
			L.Warn(ctx, "run summary notification failed", "error", err)
		}
	}
	return out, nil
}

// History returns a page of audit records.
func (s *Service) History(ctx context.Context, q dispatch.HistoryQuery) ([]dispatch.Record, int, error) {
	return s.audit.List(ctx, q)
}

// Units lists the roster's units.
func (s *Service) Units(ctx context.Context) ([]roster.UnitCount, error) {
	return s.roster.Units(ctx)
}

func (s *Service) options(req *Request) dispatch.Options {
	o := s.defaults
	o.DryRun = req.DryRun
	o.Confirm = req.Confirm
	if req.BatchSize != 0 {
		o.BatchSize = dispatch.ClampBatchSize(req.BatchSize)
	}
	if tr := strings.TrimSpace(req.TestRecipient); tr != "" {
		o.TestRecipient = tr
	}
	return o
}
