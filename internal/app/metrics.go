package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors of one process.
type Metrics struct {
	Registry     *prometheus.Registry
	ResponseTime *prometheus.HistogramVec
	ErrorCount   *prometheus.GaugeVec
	Delay        *prometheus.HistogramVec
}

// NewMetrics registers the process, Go runtime and service collectors on a
// fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lab_response_time_seconds",
			Help:    "Time from dispatch to reply, per route and status.",
			Buckets: []float64{.001, .005, .01, .015, .02, .025, .03, .04, .05, .1, .5, 1},
		}, []string{"method", "name", "status"}),
		ErrorCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lab_error_count",
			Help: "Error replies, per route, status and message.",
		}, []string{"method", "name", "status", "message"}),
		Delay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lab_injected_delay_seconds",
			Help:    "Delay injected before replying.",
			Buckets: prometheus.LinearBuckets(.005, .005, 8),
		}, []string{"service"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ResponseTime,
		m.ErrorCount,
		m.Delay,
	)
	return m
}

// DelayObserver returns a callback recording delays of service.
func (m *Metrics) DelayObserver(service string) func(time.Duration) {
	observer := m.Delay.WithLabelValues(service)
	return func(d time.Duration) {
		observer.Observe(d.Seconds())
	}
}
