package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ews "github.com/smnsjas/go-ews"
)

// Metrics holds the client collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	inFlight   prometheus.Gauge
}

// NewMetrics creates the client collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ews_client_operations_total",
				Help: "Total number of SOAP operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ews_client_operation_duration_seconds",
				Help:    "SOAP operation latency in seconds, including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ews_client_retries_total",
				Help: "Total number of retried SOAP operations",
			},
			[]string{"operation"},
		),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ews_client_operations_in_flight",
			Help: "Number of SOAP operations currently executing",
		}),
	}
}

func (m *Metrics) observe(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ews.KindOf(err).String()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) retried(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) enter() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
