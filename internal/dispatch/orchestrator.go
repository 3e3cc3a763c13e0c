package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/payslipd/internal/dispatch")

// DefaultFilename names attachments whose item carries no filename.
const DefaultFilename = "holerite.pdf"

// Mode describes how a run ended.
type Mode string

const (
	ModeSend    Mode = "send"
	ModeTest    Mode = "test"
	ModeDryRun  Mode = "dry_run"
	ModeGuard   Mode = "guard"
	ModeAborted Mode = "aborted"
)

// CompleteEvent summarizes a finished run for OnComplete.
type CompleteEvent struct {
	Unit      string
	Mode      Mode
	Total     int
	Processed int
	Failed    int
	Duration  float64
}

// Hooks are optional callbacks invoked while a run progresses. Nil fields
// are skipped. OnSend runs concurrently from batch workers.
type Hooks struct {
	OnSend     func(channel string, ok bool, duration float64)
	OnBatch    func(size int, duration float64)
	OnComplete func(e *CompleteEvent)
}

// Request is one dispatch run.
type Request struct {
	// RunID identifies the run and its audit record. Generated when empty.
	RunID   string
	Unit    string
	Subject string
	Message string
	Items   []Item
	Options Options
}

// Orchestrator sends items through a Channel and records the outcome.
type Orchestrator struct {
	channel Channel
	audit   AuditStore
	logger  log.Logger
	hooks   Hooks
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

// New creates an Orchestrator. channel and audit are required.
func New(channel Channel, audit AuditStore, logger log.Logger, hooks Hooks) *Orchestrator {
	if channel == nil {
		panic(xerrors.New("dispatch channel is required"))
	}
	if audit == nil {
		panic(xerrors.New("audit store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		channel: channel,
		audit:   audit,
		logger:  logger,
		hooks:   hooks,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Channel returns the channel messages are sent through.
func (o *Orchestrator) Channel() Channel { return o.channel }

type target struct {
	item *Item
	to   string
}

// Run executes req. Delivery failures are reported per item in the Result and
// never abort the run. The only errors returned are ValidationErrors raised by
// strict mode before anything was sent.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	opts := req.Options
	opts.BatchSize = ClampBatchSize(opts.BatchSize)
	if opts.ConfirmThreshold <= 0 {
		opts.ConfirmThreshold = DefaultConfirmThreshold
	}
	opts.TestRecipient = strings.TrimSpace(opts.TestRecipient)

	runID := req.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}
	subject := req.Subject
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = DefaultMessage
	}

	ctx, span := tracer.Start(ctx, "dispatch.Run", trace.WithAttributes(
		attribute.String("payslipd.run.id", runID),
		attribute.String("payslipd.unit", req.Unit),
		attribute.String("payslipd.dispatch.channel", o.channel.Name()),
		attribute.Int("payslipd.dispatch.items", len(req.Items)),
		attribute.Int("payslipd.dispatch.batch_size", opts.BatchSize),
		attribute.Bool("payslipd.dispatch.dry_run", opts.DryRun),
	))
	defer span.End()

	L := o.logger.With("run_id", runID, "unit", req.Unit)
	res := &Result{RunID: runID}

	if len(req.Items) > opts.ConfirmThreshold && !opts.DryRun && opts.TestRecipient == "" && !opts.Confirm {
		res.Total = len(req.Items)
		res.Guard = &Guard{Count: len(req.Items), Threshold: opts.ConfirmThreshold}
		L.Warn(ctx, "run needs confirmation", "recipients", len(req.Items), "threshold", opts.ConfirmThreshold)
		span.SetAttributes(attribute.String("payslipd.dispatch.mode", string(ModeGuard)))
		o.complete(ctx, req.Unit, ModeGuard, res, start)
		return res, nil
	}

	targets := plan(req.Items, opts)

	if err := validateStrict(targets, opts); err != nil {
		L.Warn(ctx, "run aborted by strict validation", "reason", err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.complete(ctx, req.Unit, ModeAborted, res, start)
		return nil, err
	}

	mode := ModeSend
	switch {
	case opts.DryRun:
		mode = ModeDryRun
	case opts.TestRecipient != "":
		mode = ModeTest
	}
	span.SetAttributes(attribute.String("payslipd.dispatch.mode", string(mode)))

	if opts.DryRun {
		res.Total = len(req.Items)
		res.Preview = &Preview{Sample: sample(req.Items, opts.TestRecipient), Total: len(req.Items)}
		L.Info(ctx, "dry run", "recipients", res.Total)
	} else {
		res.Items = o.execute(ctx, L, targets, subject, message, opts)
		res.Total = len(targets)
		for _, it := range res.Items {
			if it.OK {
				res.Processed++
			} else {
				res.Failed++
			}
		}
		span.SetAttributes(
			attribute.Int("payslipd.dispatch.processed", res.Processed),
			attribute.Int("payslipd.dispatch.failed", res.Failed),
		)
	}

	rec := &Record{
		ID:            runID,
		Unit:          req.Unit,
		Subject:       subject,
		Total:         res.Total,
		Processed:     res.Processed,
		Failed:        res.Failed,
		DryRun:        opts.DryRun,
		TestRecipient: opts.TestRecipient,
		CreatedAt:     o.now().UTC(),
	}
	if err := o.audit.RecordSend(ctx, rec); err != nil {
		L.Error(ctx, err, "failed to record audit entry")
		span.RecordError(err)
		res.AuditError = err.Error()
	}

	L.Info(ctx, "dispatch complete",
		"mode", mode,
		"total", res.Total,
		"processed", res.Processed,
		"failed", res.Failed,
		"duration", time.Since(start).Seconds(),
	)
	o.complete(ctx, req.Unit, mode, res, start)
	return res, nil
}

// plan resolves the address every item goes to. A test recipient collapses
// the run to the first item.
func plan(items []Item, opts Options) []target {
	if opts.TestRecipient != "" {
		if len(items) == 0 {
			return nil
		}
		return []target{{item: &items[0], to: opts.TestRecipient}}
	}
	out := make([]target, len(items))
	for i := range items {
		out[i] = target{item: &items[i], to: strings.TrimSpace(items[i].Entry.Email)}
	}
	return out
}

func validateStrict(targets []target, opts Options) error {
	if opts.StrictEmail {
		var bad []string
		for _, t := range targets {
			if !ValidEmail(t.to) {
				bad = append(bad, t.item.Entry.FullName)
			}
		}
		if len(bad) > 0 {
			return &ValidationError{Reason: pluralize(len(bad), "recipient has", "recipients have") + " no valid email", Examples: firstN(bad, PreviewSampleSize)}
		}
	}
	if opts.StrictPDF {
		var bad []string
		for _, t := range targets {
			if !hasPDFSignature(t.item.PDF) {
				bad = append(bad, filename(t.item))
			}
		}
		if len(bad) > 0 {
			return &ValidationError{Reason: pluralize(len(bad), "attachment is", "attachments are") + " not a valid PDF", Examples: firstN(bad, PreviewSampleSize)}
		}
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, L log.Logger, targets []target, subject, message string, opts Options) []ItemResult {
	results := make([]ItemResult, len(targets))
	for lo := 0; lo < len(targets); lo += opts.BatchSize {
		hi := min(lo+opts.BatchSize, len(targets))
		if lo > 0 && opts.BatchDelay > 0 {
			o.sleep(ctx, opts.BatchDelay)
		}

		batchStart := time.Now()
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				results[i] = o.deliver(ctx, L, targets[i], subject, message, opts)
				return nil
			})
		}
		_ = g.Wait()

		d := time.Since(batchStart).Seconds()
		if o.hooks.OnBatch != nil {
			o.hooks.OnBatch(hi-lo, d)
		}
		L.Info(ctx, "batch settled", "batch", lo/opts.BatchSize+1, "size", hi-lo, "duration", d)
	}
	return results
}

func (o *Orchestrator) deliver(ctx context.Context, L log.Logger, t target, subject, message string, opts Options) ItemResult {
	e := &t.item.Entry
	r := ItemResult{Name: e.FullName, Email: t.to}

	switch {
	case t.to == "":
		r.Error = "missing email"
	case !ValidEmail(t.to):
		r.Error = "invalid email"
	case !domainAllowed(t.to, opts.AllowedDomains):
		r.Error = "domain not allowed"
	case !hasPDFSignature(t.item.PDF):
		r.Error = "attachment is not a PDF"
	}
	if r.Error != "" {
		L.Warn(ctx, "recipient skipped", "name", e.FullName, "email", t.to, "reason", r.Error)
		return r
	}

	msg := &Message{
		To:      t.to,
		Subject: Render(subject, e),
		HTML:    HTMLBody(Render(message, e)),
		Attachments: []Attachment{{
			Filename: filename(t.item),
			Content:  t.item.PDF,
		}},
	}

	ctx, span := tracer.Start(ctx, "dispatch.Send", trace.WithAttributes(
		attribute.String("payslipd.dispatch.channel", o.channel.Name()),
		attribute.Int("payslipd.dispatch.attachment_bytes", len(t.item.PDF)),
	))
	defer span.End()

	start := time.Now()
	err := o.channel.Send(ctx, msg)
	if o.hooks.OnSend != nil {
		o.hooks.OnSend(o.channel.Name(), err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "send failed", "name", e.FullName, "email", t.to)
		r.Error = err.Error()
		return r
	}
	r.OK = true
	return r
}

func (o *Orchestrator) complete(_ context.Context, unit string, mode Mode, res *Result, start time.Time) {
	if o.hooks.OnComplete == nil {
		return
	}
	o.hooks.OnComplete(&CompleteEvent{
		Unit:      unit,
		Mode:      mode,
		Total:     res.Total,
		Processed: res.Processed,
		Failed:    res.Failed,
		Duration:  time.Since(start).Seconds(),
	})
}

func sample(items []Item, testRecipient string) []string {
	if testRecipient != "" {
		return []string{testRecipient}
	}
	out := make([]string, 0, min(len(items), PreviewSampleSize))
	for i := 0; i < len(items) && len(out) < PreviewSampleSize; i++ {
		out = append(out, items[i].Entry.Email)
	}
	return out
}

func filename(it *Item) string {
	if it.Filename == "" {
		return DefaultFilename
	}
	return it.Filename
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
