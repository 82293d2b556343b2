package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ontracksystems/ontrack-etl/pkg/consolidate"
)

// Metrics holds the collectors updated by a Runner. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	sources       *prometheus.CounterVec
	rows          *prometheus.CounterVec
	shards        prometheus.Counter
	shardBytes    prometheus.Counter
	shardFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontrack_runs_total",
				Help: "Total consolidation runs by result.",
			},
			[]string{"result"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ontrack_run_duration_seconds",
				Help:    "Duration of consolidation runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
		),
		lastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ontrack_last_success_timestamp_seconds",
				Help: "Unix time of the last run in which no source failed.",
			},
		),
		sources: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontrack_sources_total",
				Help: "Sources processed by status.",
			},
			[]string{"status"},
		),
		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontrack_rows_total",
				Help: "Data rows read from shards by outcome.",
			},
			[]string{"outcome"},
		),
		shards: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ontrack_shards_fetched_total",
				Help: "Shards downloaded into staging.",
			},
		),
		shardBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ontrack_shard_bytes_fetched_total",
				Help: "Bytes of shards downloaded into staging.",
			},
		),
		shardFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ontrack_shard_fetch_failures_total",
				Help: "Shards that could not be downloaded and were skipped.",
			},
		),
	}
}

func (m *Metrics) runFinished(report *Report, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	if report.Failed() > 0 {
		m.runs.WithLabelValues("failed").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.lastSuccess.SetToCurrentTime()
}

func (m *Metrics) runAborted() {
	if m == nil {
		return
	}
	m.runs.WithLabelValues("aborted").Inc()
}

func (m *Metrics) sourceFinished(res SourceResult) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(string(res.Status)).Inc()
	if res.Stats.RowsWritten > 0 {
		m.rows.WithLabelValues("written").Add(float64(res.Stats.RowsWritten))
	}
	for _, reason := range consolidate.Reasons {
		if n := res.Stats.Dropped[reason]; n > 0 {
			m.rows.WithLabelValues(string(reason)).Add(float64(n))
		}
	}
}

func (m *Metrics) shardFetched(size int64) {
	if m == nil {
		return
	}
	m.shards.Inc()
	m.shardBytes.Add(float64(size))
}

func (m *Metrics) shardFailed() {
	if m == nil {
		return
	}
	m.shardFailures.Inc()
}
