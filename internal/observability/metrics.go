package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors the telemetry event catalogue as Prometheus series,
// following the teacher's pattern of a small struct of pre-registered
// collectors rather than ad-hoc registration at call sites.
type Metrics struct {
	events     *prometheus.CounterVec
	exceptions *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewMetrics registers BeamLens's collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics
// endpoint.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beamlens",
			Name:      "events_total",
			Help:      "Count of telemetry events emitted, by event name.",
		}, []string{"event"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beamlens",
			Name:      "exceptions_total",
			Help:      "Count of span exceptions, by span name and kind.",
		}, []string{"span", "kind"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "beamlens",
			Name:      "span_duration_seconds",
			Help:      "Duration of start/stop/exception spans, by span name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"span"}),
	}

	for _, c := range []prometheus.Collector{m.events, m.exceptions, m.durations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) IncEvent(name string) {
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) IncException(span, kind string) {
	m.exceptions.WithLabelValues(span, kind).Inc()
}

func (m *Metrics) ObserveDuration(span string, d time.Duration) {
	m.durations.WithLabelValues(span).Observe(d.Seconds())
}
