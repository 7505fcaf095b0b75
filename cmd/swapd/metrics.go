package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// metrics holds the daemon's Prometheus instrumentation: swap population
// and outcome counts, plus watcher query gauges fed by the chain
// watchers' registrations.
type metrics struct {
	registry *prometheus.Registry

	activeSwaps    prometheus.Gauge
	terminalSwaps  *prometheus.CounterVec
	watcherQueries *prometheus.GaugeVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		activeSwaps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swapd",
			Name:      "active_swaps",
			Help:      "Number of swaps currently held in memory.",
		}),
		terminalSwaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swapd",
			Name:      "terminal_swaps_total",
			Help:      "Swaps that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		watcherQueries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swapd",
			Name:      "watcher_queries",
			Help:      "Outstanding chain watcher queries, by ledger.",
		}, []string{"ledger"}),
	}

	m.registry.MustRegister(m.activeSwaps, m.terminalSwaps, m.watcherQueries)
	return m
}

// handler serves the /metrics endpoint.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
