package transport

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ews "github.com/smnsjas/go-ews"
)

// Metrics holds the transport collectors. A nil *Metrics records nothing.
type Metrics struct {
	exchanges *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	calls     *prometheus.CounterVec
}

// NewMetrics creates the transport collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		exchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ews_transport_exchanges_total",
				Help: "Total number of physical HTTP exchanges",
			},
			[]string{"method", "status_class"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ews_transport_exchange_duration_seconds",
				Help:    "HTTP exchange latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ews_transport_calls_total",
				Help: "Total number of logical calls by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) observeExchange(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(method, statusClass(status)).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observeCall(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ews.KindOf(err).String()
	}
	m.calls.WithLabelValues(outcome).Inc()
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
