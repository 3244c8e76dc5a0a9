// Package metrics defines the Prometheus collectors updated by index
// writers and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	DocsAddedTotal   prometheus.Counter
	DeletesTotal     *prometheus.CounterVec
	FlushesTotal     *prometheus.CounterVec
	FlushDuration    prometheus.Histogram
	MergesTotal      *prometheus.CounterVec
	MergeDuration    prometheus.Histogram
	CommitsTotal     *prometheus.CounterVec
	SegmentCount     prometheus.Gauge
	PendingDeletions prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocsAddedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "segidx_docs_added_total",
				Help: "Total documents added or updated.",
			},
		),
		DeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segidx_deletes_total",
				Help: "Total delete operations by kind (term, query, all).",
			},
			[]string{"kind"},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segidx_flushes_total",
				Help: "Total segment flushes by status.",
			},
			[]string{"status"},
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "segidx_flush_duration_seconds",
				Help:    "Segment flush latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segidx_merges_total",
				Help: "Total merges by status (ok, error, aborted).",
			},
			[]string{"status"},
		),
		MergeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "segidx_merge_duration_seconds",
				Help:    "Merge latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segidx_commits_total",
				Help: "Total commits by status.",
			},
			[]string{"status"},
		),
		SegmentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "segidx_segments",
				Help: "Number of segments in the writer's current segment list.",
			},
		),
		PendingDeletions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "segidx_pending_file_deletions",
				Help: "Files waiting to be deleted because a reader still holds them.",
			},
		),
	}

	reg.MustRegister(
		m.DocsAddedTotal,
		m.DeletesTotal,
		m.FlushesTotal,
		m.FlushDuration,
		m.MergesTotal,
		m.MergeDuration,
		m.CommitsTotal,
		m.SegmentCount,
		m.PendingDeletions,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) DocAdded() {
	if m == nil {
		return
	}
	m.DocsAddedTotal.Inc()
}

func (m *Metrics) Deleted(kind string) {
	if m == nil {
		return
	}
	m.DeletesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Flushed(start time.Time, err error) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(status(err)).Inc()
	m.FlushDuration.Observe(time.Since(start).Seconds())
}

// Merged records a finished merge; aborted merges are counted separately.
func (m *Metrics) Merged(start time.Time, err error, aborted bool) {
	if m == nil {
		return
	}
	st := status(err)
	if aborted {
		st = "aborted"
	}
	m.MergesTotal.WithLabelValues(st).Inc()
	m.MergeDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) Committed(err error) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) Segments(n, pendingDeletes int) {
	if m == nil {
		return
	}
	m.SegmentCount.Set(float64(n))
	m.PendingDeletions.Set(float64(pendingDeletes))
}

// Handler returns the scrape handler for the registry the collectors were
// registered on, or the default registry.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
