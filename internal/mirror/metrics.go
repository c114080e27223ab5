package mirror

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	syncs    *prometheus.CounterVec
	retries  prometheus.Counter
	duration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_sync_total",
			Help: "Total number of handled change events by outcome",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_sync_retries_total",
			Help: "Total number of sync retries after a failed attempt",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirror_sync_duration_seconds",
			Help:    "Time spent handling one change event, retries included",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.syncs, m.retries, m.duration)
	return m
}

func (m *Metrics) observe(outcome Outcome) {
	m.syncs.WithLabelValues(string(outcome)).Inc()
}
