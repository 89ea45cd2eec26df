// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the dispatch core.
type Metrics struct {
	// Disparo loop outcomes, labeled by gateway instance and result.
	DisparosTotal *prometheus.CounterVec

	// Ledger report outcomes, labeled by stage and result
	// (applied/skipped/rejected).
	ReportsTotal *prometheus.CounterVec

	EnqueuedTotal   prometheus.Counter
	DuplicatesTotal prometheus.Counter
	ClaimedTotal    prometheus.Counter

	ActiveRuns prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DisparosTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disparo_messages_total",
				Help: "Disparo loop attempts by instance and result",
			},
			[]string{"instance", "result"},
		),
		ReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disparo_reports_total",
				Help: "Status reports by stage and result",
			},
			[]string{"stage", "result"},
		),
		EnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "disparo_sends_enqueued_total",
			Help: "Send rows inserted at enqueue",
		}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "disparo_sends_duplicated_total",
			Help: "Enqueue attempts rejected by the checksum index",
		}),
		ClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "disparo_sends_claimed_total",
			Help: "Send rows reserved by claim calls",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "disparo_active_runs",
			Help: "Disparo runs currently executing",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.DisparosTotal,
		m.ReportsTotal,
		m.EnqueuedTotal,
		m.DuplicatesTotal,
		m.ClaimedTotal,
		m.ActiveRuns,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
