package apply

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for engine passes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	passes        prometheus.Counter
	voxels        *prometheus.CounterVec
	applyDuration prometheus.Histogram
	passDuration  prometheus.Histogram
	inflight      prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Total number of completed engine passes",
		}),
		voxels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "voxels_total",
				Help:      "Voxels visited, by outcome (fitted, failed, masked)",
			},
			[]string{"outcome"},
		),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time spent in a single Apply call",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a full engine pass",
			Buckets:   prometheus.DefBuckets,
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_voxels",
			Help:      "Voxels enqueued but not yet fitted",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.passes, m.voxels, m.applyDuration, m.passDuration, m.inflight} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeMasked() {
	if m == nil {
		return
	}
	m.voxels.WithLabelValues("masked").Inc()
}

func (m *Metrics) observeQueued() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) observeApply(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.applyDuration.Observe(d.Seconds())
	if ok {
		m.voxels.WithLabelValues("fitted").Inc()
	} else {
		m.voxels.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) observePass(d time.Duration) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(d.Seconds())
}
