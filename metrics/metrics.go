// Package metrics exposes Nelson's internal counters as Prometheus
// collectors, served under /metrics next to the status surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of collectors New registers at startup; node.Node
// updates them on cycle and epoch ticks, IRI health changes and link
// transitions.
type Metrics struct {
	TotalPeers     prometheus.Gauge
	OpenLinks      prometheus.Gauge
	CurrentCycle   prometheus.Gauge
	CurrentEpoch   prometheus.Gauge
	IRIHealthy     prometheus.Gauge
	LinksClosed    prometheus.Counter
	LinksOpened    prometheus.Counter
	ReconcileCalls prometheus.Counter
}

// New creates and registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TotalPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nelson",
			Name:      "peers_total",
			Help:      "Number of peers known to the PeerList.",
		}),
		OpenLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nelson",
			Name:      "links_open",
			Help:      "Number of currently OPEN PeerLinks.",
		}),
		CurrentCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nelson",
			Name:      "heart_current_cycle",
			Help:      "Heart's currentCycle counter.",
		}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nelson",
			Name:      "heart_current_epoch",
			Help:      "Heart's currentEpoch counter.",
		}),
		IRIHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nelson",
			Name:      "iri_healthy",
			Help:      "1 if the last IRIClient health tick succeeded, 0 otherwise.",
		}),
		LinksClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nelson",
			Name:      "links_closed_total",
			Help:      "Total PeerLinks that transitioned to CLOSED.",
		}),
		LinksOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nelson",
			Name:      "links_opened_total",
			Help:      "Total PeerLinks that transitioned to OPEN.",
		}),
		ReconcileCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nelson",
			Name:      "iri_reconcile_total",
			Help:      "Total IRIClient neighbor-reconciliation calls issued.",
		}),
	}
	reg.MustRegister(
		m.TotalPeers, m.OpenLinks, m.CurrentCycle, m.CurrentEpoch,
		m.IRIHealthy, m.LinksClosed, m.LinksOpened, m.ReconcileCalls,
	)
	return m
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetIRIHealthy records the latest IRIClient health observation.
func (m *Metrics) SetIRIHealthy(healthy bool) {
	m.IRIHealthy.Set(boolToFloat(healthy))
}
