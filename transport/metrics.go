package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DriverMetrics collects the counters/gauges/histograms the pool and
// executor update as they run. A single instance is shared process-wide via
// Metrics; callers that want isolated metrics (tests, multiple sessions in
// one binary) can build their own with NewMetrics and pass a private
// registry.
type DriverMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlightRequests prometheus.Gauge
	reconnectsTotal  prometheus.Counter
	nodesUp          prometheus.Gauge
	nodesDown        prometheus.Gauge
}

// NewMetrics builds driver metrics registered against reg. Pass
// prometheus.DefaultRegisterer for the process-wide default.
func NewMetrics(reg prometheus.Registerer) *DriverMetrics {
	m := &DriverMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "requests_total",
			Help:      "CQL requests sent, partitioned by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scylla_driver",
			Name:      "request_duration_seconds",
			Help:      "Time from submitting a CQL request to receiving its response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		inFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scylla_driver",
			Name:      "in_flight_requests",
			Help:      "CQL requests awaiting a response across all connections.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scylla_driver",
			Name:      "pool_reconnects_total",
			Help:      "Successful reconnections performed by connection pools.",
		}),
		nodesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scylla_driver",
			Name:      "nodes_up",
			Help:      "Nodes currently marked up.",
		}),
		nodesDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scylla_driver",
			Name:      "nodes_down",
			Help:      "Nodes currently marked down.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requestsTotal,
			m.requestDuration,
			m.inFlightRequests,
			m.reconnectsTotal,
			m.nodesUp,
			m.nodesDown,
		)
	}

	return m
}

// Metrics is the process-wide default metrics instance, registered against
// prometheus.DefaultRegisterer. Swap it out (before opening any Session) to
// redirect the driver at a private registry.
var Metrics = NewMetrics(prometheus.DefaultRegisterer)

func (m *DriverMetrics) observeRequest(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
