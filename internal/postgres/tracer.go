package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var (
	observer atomic.Pointer[observerHolder]

	// slowQuery is the duration below which successful queries are not
	// logged. 0 logs every query.
	slowQuery atomic.Int64
)

type (
	tagsKey    struct{}
	pendingKey struct{}
	statsKey   struct{}
)

type observerHolder struct{ QueryObserver }

// Tags labels the queries issued under a context: which store issued them
// and, for audit writes, the dispatch run and unit they belong to.
type Tags struct {
	Store  string
	RunID  string
	Unit   string
	Method string
}

func (t Tags) merge(o Tags) Tags {
	if o.Store != "" {
		t.Store = o.Store
	}
	if o.RunID != "" {
		t.RunID = o.RunID
	}
	if o.Unit != "" {
		t.Unit = o.Unit
	}
	if o.Method != "" {
		t.Method = o.Method
	}
	return t
}

func (t Tags) fields() []any {
	var kv []any
	if t.Store != "" {
		kv = append(kv, "payslipd.store", t.Store)
	}
	if t.RunID != "" {
		kv = append(kv, "payslipd.run.id", t.RunID)
	}
	if t.Unit != "" {
		kv = append(kv, "payslipd.unit", t.Unit)
	}
	return kv
}

// WithTags merges t into the tags already carried by ctx. Empty fields keep
// the outer value.
func WithTags(ctx context.Context, t Tags) context.Context {
	return context.WithValue(ctx, tagsKey{}, TagsFromContext(ctx).merge(t))
}

// TagsFromContext returns the query tags carried by ctx.
func TagsFromContext(ctx context.Context) Tags {
	t, _ := ctx.Value(tagsKey{}).(Tags)
	return t
}

// WithHTTPMethod tags queries with the request method for metrics.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return WithTags(ctx, Tags{Method: method})
}

// QueryLabels is what a QueryObserver sees for one finished query.
type QueryLabels struct {
	Method  string
	Route   string
	Store   string
	Outcome string
}

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, l QueryLabels, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, l QueryLabels, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, l QueryLabels, dur time.Duration) {
	f(ctx, l, dur)
}

// SetQueryObserver installs the process-wide observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&observerHolder{QueryObserver: o})
}

func currentObserver() QueryObserver {
	if h := observer.Load(); h != nil {
		return h.QueryObserver
	}
	return nil
}

// SetMinQueryLogDuration sets the threshold below which successful queries
// are not logged. Negative values are treated as 0.
func SetMinQueryLogDuration(d time.Duration) {
	slowQuery.Store(int64(max(d, 0)))
}

// ReqDBStats accumulates per-request query statistics.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records one query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// NewReqDBStatsContext returns ctx with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, statsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext returns the ReqDBStats attached to ctx, if any.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(statsKey{}).(*ReqDBStats)
	return s, ok
}

// pendingQuery is stashed by TraceQueryStart and read back by TraceQueryEnd.
type pendingQuery struct {
	sql    string
	args   []any
	start  time.Time
	caller string
}

// queryTracer logs every query with payslipd tags, then delegates span
// handling to inner (otelpgx in production).
type queryTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return queryTracer{inner: inner}
}

func (t queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	p := &pendingQuery{sql: data.SQL, args: data.Args, start: time.Now(), caller: storeCaller()}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(spanAttrs(TagsFromContext(ctx), p.caller)...)
	}
	return context.WithValue(ctx, pendingKey{}, p)
}

func (t queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	p, _ := ctx.Value(pendingKey{}).(*pendingQuery)
	if p == nil {
		p = &pendingQuery{}
	}
	var dur time.Duration
	if !p.start.IsZero() {
		dur = time.Since(p.start)
	}
	tags := TagsFromContext(ctx)

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}
	if obs := currentObserver(); obs != nil && dur > 0 {
		obs.ObserveQuery(ctx, labelsFor(ctx, tags, data.Err), dur)
	}

	if minDur := time.Duration(slowQuery.Load()); minDur > 0 && dur < minDur && data.Err == nil {
		return
	}

	fields := append([]any{
		"db.statement", p.sql,
		"db.args", p.args,
		"db.duration", dur.Seconds(),
	}, tags.fields()...)
	fields = append(fields, commandTagFields(data.CommandTag)...)
	if p.caller != "" {
		fields = append(fields, "db.caller", p.caller)
	}

	L := log.FromContext(ctx)
	if data.Err == nil {
		L.Info(ctx, "db query", fields...)
		return
	}
	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
	}
	L.Error(ctx, data.Err, "db query failed", fields...)
}

// labelsFor fills metric labels. Queries outside an HTTP request (CLI runs,
// startup migrations) are labelled by their store instead of a route.
func labelsFor(ctx context.Context, tags Tags, err error) QueryLabels {
	l := QueryLabels{Method: tags.Method, Store: tags.Store, Outcome: "ok"}
	if rc := chi.RouteContext(ctx); rc != nil {
		l.Route = rc.RoutePattern()
	}
	if l.Method == "" {
		l.Method = "NONE"
	}
	if l.Route == "" {
		l.Route = "none"
	}
	if l.Store == "" {
		l.Store = "unknown"
	}
	if err != nil {
		l.Outcome = "error"
	}
	return l
}

func spanAttrs(tags Tags, caller string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if caller != "" {
		attrs = append(attrs, attribute.String("db.caller", caller))
	}
	if tags.Store != "" {
		attrs = append(attrs, attribute.String("payslipd.store", tags.Store))
	}
	if tags.RunID != "" {
		attrs = append(attrs, attribute.String("payslipd.run.id", tags.RunID))
	}
	if tags.Unit != "" {
		attrs = append(attrs, attribute.String("payslipd.unit", tags.Unit))
	}
	return attrs
}

func commandTagFields(tag pgconn.CommandTag) []any {
	s := strings.TrimSpace(tag.String())
	if s == "" {
		return nil
	}
	op, _, _ := strings.Cut(s, " ")
	return []any{
		"db.operation.name", strings.ToUpper(op),
		"pg.command_tag", s,
		"db.rows", tag.RowsAffected(),
	}
}

// noiseFrames are skipped when looking for the store method behind a query.
var noiseFrames = []string{
	"runtime.",
	"github.com/jackc/pgx/v5",
	"github.com/jackc/puddle",
	"github.com/exaring/otelpgx",
	"github.com/linnemanlabs/payslipd/internal/postgres.",
}

// storeCaller returns the first application frame issuing the query,
// e.g. "(*Store).RecordSend".
func storeCaller() string {
	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		fr, more := frames.Next()
		if fr.Function != "" && !isNoiseFrame(fr.Function) {
			return shortenFuncName(fr.Function)
		}
		if !more {
			return ""
		}
	}
}

func isNoiseFrame(fn string) bool {
	for _, p := range noiseFrames {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// shortenFuncName drops the import path and package name, keeping the
// receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if _, rest, ok := strings.Cut(fn, "."); ok {
		return rest
	}
	return fn
}
