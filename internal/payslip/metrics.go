package payslip

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

// Metrics holds Prometheus metrics for the payslip pipeline and dispatch.
type Metrics struct {
	DocumentsTotal     *prometheus.CounterVec
	SegmentsTotal      *prometheus.CounterVec
	MatchesTotal       *prometheus.CounterVec
	RecipientsPerRun   prometheus.Histogram
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	MessagesTotal      *prometheus.CounterVec
	SendDuration       *prometheus.HistogramVec
	BatchDuration      prometheus.Histogram
	BatchSize          prometheus.Histogram
	ResolutionFailures prometheus.Counter
}

// NewMetrics registers and returns payslip metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payslipd_documents_total",
			Help: "Uploaded documents processed, by unit.",
		}, []string{"unit"}),
		SegmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payslipd_segments_total",
			Help: "Segments produced by the splitter, by outcome.",
		}, []string{"outcome"}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payslipd_matches_total",
			Help: "Resolved segments by resolution method.",
		}, []string{"method"}),
		RecipientsPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payslipd_recipients_per_document",
			Help:    "Distinct recipients found per uploaded document.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payslipd_dispatch_runs_total",
			Help: "Dispatch runs by mode.",
		}, []string{"mode"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payslipd_dispatch_duration_seconds",
			Help:    "Duration of dispatch runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~204s
		}, []string{"mode"}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payslipd_messages_total",
			Help: "Messages handed to a channel, by channel and status.",
		}, []string{"channel", "status"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payslipd_send_duration_seconds",
			Help:    "Duration of individual channel sends in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"channel"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payslipd_batch_duration_seconds",
			Help:    "Duration of dispatch batches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payslipd_batch_size",
			Help:    "Messages per dispatch batch.",
			Buckets: prometheus.LinearBuckets(10, 10, 10), // 10 .. 100
		}),
		ResolutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payslipd_resolution_failures_total",
			Help: "Segments that could not be matched to a roster entry.",
		}),
	}

	reg.MustRegister(
		m.DocumentsTotal,
		m.SegmentsTotal,
		m.MatchesTotal,
		m.RecipientsPerRun,
		m.RunsTotal,
		m.RunDuration,
		m.MessagesTotal,
		m.SendDuration,
		m.BatchDuration,
		m.BatchSize,
		m.ResolutionFailures,
	)

	return m
}

// Hooks returns pipeline hooks that update the document metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnProcessed: func(unit string, s *Stats) {
			m.DocumentsTotal.WithLabelValues(unit).Inc()
			m.SegmentsTotal.WithLabelValues("matched").Add(float64(s.Matched))
			m.SegmentsTotal.WithLabelValues("sparse").Add(float64(s.Sparse))
			m.SegmentsTotal.WithLabelValues("no_candidate").Add(float64(s.ExtractionFailures))
			m.SegmentsTotal.WithLabelValues("unmatched").Add(float64(s.ResolutionFailures))
			for method, n := range s.ByMethod {
				m.MatchesTotal.WithLabelValues(method).Add(float64(n))
			}
			m.RecipientsPerRun.Observe(float64(s.Recipients))
			m.ResolutionFailures.Add(float64(s.ResolutionFailures))
		},
	}
}

// DispatchHooks returns orchestrator hooks that update the dispatch metrics.
func (m *Metrics) DispatchHooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnSend: func(channel string, ok bool, duration float64) {
			status := "success"
			if !ok {
				status = "error"
			}
			m.MessagesTotal.WithLabelValues(channel, status).Inc()
			m.SendDuration.WithLabelValues(channel).Observe(duration)
		},
		OnBatch: func(size int, duration float64) {
			m.BatchSize.Observe(float64(size))
			m.BatchDuration.Observe(duration)
		},
		OnComplete: func(e *dispatch.CompleteEvent) {
			m.RunsTotal.WithLabelValues(string(e.Mode)).Inc()
			m.RunDuration.WithLabelValues(string(e.Mode)).Observe(e.Duration)
		},
	}
}
