// Package metrics exposes routing health observations through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "routelane"

// Metrics wraps the Prometheus collectors fed by the routing engine.
// It implements the biz.Observer interface.
type Metrics struct {
	registry *prometheus.Registry

	effectiveWeight *prometheus.GaugeVec
	circuitState    *prometheus.GaugeVec
	ejectionsTotal  *prometheus.CounterVec
}

// NewMetrics creates the metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		effectiveWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_effective_weight",
				Help:      "Normalized effective weight of a provider (effective / static), in [0, 1]",
			},
			[]string{"provider"},
		),

		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_circuit_state",
				Help:      "Circuit breaker state of a provider (0=closed, 1=open, 2=half_open)",
			},
			[]string{"provider"},
		),

		ejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_ejections_total",
				Help:      "Total circuit-open events per provider, labeled by cause",
			},
			[]string{"provider", "cause"},
		),
	}

	registry.MustRegister(m.effectiveWeight, m.circuitState, m.ejectionsTotal)
	return m
}

// ObserveEffectiveWeight records a provider's normalized effective weight.
func (m *Metrics) ObserveEffectiveWeight(provider string, normalized float64) {
	m.effectiveWeight.WithLabelValues(provider).Set(normalized)
}

// ObserveCircuitState records a provider's circuit state as a numeric gauge
// (0=closed, 1=open, 2=half_open).
func (m *Metrics) ObserveCircuitState(provider, state string) {
	m.circuitState.WithLabelValues(provider).Set(stateValue(state))
}

// IncEjection increments the ejection counter for a provider and cause.
func (m *Metrics) IncEjection(provider, cause string) {
	m.ejectionsTotal.WithLabelValues(provider, cause).Inc()
}

// ForgetProvider drops all series for a provider removed from configuration.
func (m *Metrics) ForgetProvider(provider string) {
	labels := prometheus.Labels{"provider": provider}
	m.effectiveWeight.DeletePartialMatch(labels)
	m.circuitState.DeletePartialMatch(labels)
	m.ejectionsTotal.DeletePartialMatch(labels)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func stateValue(label string) float64 {
	switch label {
	case "closed":
		return 0
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return -1
	}
}
