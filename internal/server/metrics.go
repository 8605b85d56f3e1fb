package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	paymentsTotal    *prometheus.CounterVec
	settlementsTotal *prometheus.CounterVec
}

// newMetricsRegistry builds an isolated registry so tests can stand up
// multiple servers. Drift depth and websocket count are sampled at
// scrape time via the supplied funcs.
func newMetricsRegistry(driftDepth func() float64, wsClients func() int64) *metricsRegistry {
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygram_payments_total",
		Help: "Total number of payment creation requests",
	}, []string{"status"})

	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygram_settlements_total",
		Help: "Total number of approve/reject requests",
	}, []string{"action", "status"})

	drift := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "paygram_drift_depth",
		Help: "Journaled payments confirmed on chain but missing from the mirror",
	}, driftDepth)

	ws := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "paygram_feed_clients",
		Help: "Connected websocket feed clients",
	}, func() float64 { return float64(wsClients()) })

	r := prometheus.NewRegistry()
	r.MustRegister(payments, settlements, drift, ws)

	return &metricsRegistry{
		registry:         r,
		paymentsTotal:    payments,
		settlementsTotal: settlements,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incPayment(status string) {
	m.paymentsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incSettlement(action, status string) {
	m.settlementsTotal.WithLabelValues(action, status).Inc()
}
