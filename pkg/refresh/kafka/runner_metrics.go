package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Edit outcomes. Every consumed message lands in exactly one.
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// refreshMetrics tracks what feature edits did to the grids: how many pages
// were dropped from the cache, how many panels reloaded their count and
// schema, and the last edit version applied per layer.
type refreshMetrics struct {
	edits        *prometheus.CounterVec
	purgedPages  prometheus.Counter
	reloaded     prometheus.Counter
	layerVersion *prometheus.GaugeVec
	applySeconds *prometheus.HistogramVec
	editLag      prometheus.Gauge
}

func newRefreshMetrics(r prometheus.Registerer) *refreshMetrics {
	m := &refreshMetrics{
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refresh_edits_total",
			Help: "Feature edit events consumed, by result.",
		}, []string{"result"}),
		purgedPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_purged_pages_total",
			Help: "Cached grid pages dropped because their layer was edited.",
		}),
		reloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_reloaded_panels_total",
			Help: "Panels that reloaded count and schema after an edit.",
		}),
		layerVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refresh_layer_version",
			Help: "Last applied edit version per layer; 0 for unversioned edits.",
		}, []string{"layer"}),
		applySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refresh_apply_seconds",
			Help:    "Time to purge and reload the panels of one edited layer.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		editLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "refresh_edit_lag_seconds",
			Help: "Time between an edit being published and consumed.",
		}),
	}
	if r != nil {
		r.MustRegister(m.edits, m.purgedPages, m.reloaded, m.layerVersion, m.applySeconds, m.editLag)
	}
	return m
}

func (m *refreshMetrics) result(r string) { m.edits.WithLabelValues(r).Inc() }

func (m *refreshMetrics) lag(published time.Time) {
	if !published.IsZero() {
		m.editLag.Set(time.Since(published).Seconds())
	}
}

func (m *refreshMetrics) applied(w WireEvent, pages, panels int, dur time.Duration) {
	op := w.Op
	if op == "" {
		op = "unknown"
	}
	m.purgedPages.Add(float64(pages))
	m.reloaded.Add(float64(panels))
	m.layerVersion.WithLabelValues(w.Layer).Set(float64(w.Version))
	m.applySeconds.WithLabelValues(op).Observe(dur.Seconds())
	m.result(resultApplied)
}
