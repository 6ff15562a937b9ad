// Package metrics exposes the Governor's Prometheus instrumentation,
// grounded on the teacher's common/ecsmetrics use of
// github.com/prometheus/client_golang: a small set of named gauges,
// counters and a histogram registered against a private registry so
// tests can build throwaway instances without touching the global
// default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbeamline/governor/internal/status"
)

// Metrics bundles every collector the Governor publishes.
type Metrics struct {
	registry *prometheus.Registry

	MachineStatus          *prometheus.GaugeVec
	TransitionDuration     *prometheus.HistogramVec
	FaultTotal             *prometheus.CounterVec
	TransitionTotal        *prometheus.CounterVec
}

// New builds a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		MachineStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_machine_status",
			Help: "Current status of a machine: one binary gauge per (machine, status) pair, 1 for the active status.",
		}, []string{"machine", "status"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_transition_duration_seconds",
			Help:    "Duration of completed transitions, labeled by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"machine", "from", "to", "outcome"}),
		FaultTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_fault_total",
			Help: "Count of FAULT transitions, labeled by machine and failed device.",
		}, []string{"machine", "device"}),
		TransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governor_transition_total",
			Help: "Count of attempted transitions, labeled by machine and outcome.",
		}, []string{"machine", "outcome"}),
	}

	reg.MustRegister(m.MachineStatus, m.TransitionDuration, m.FaultTotal, m.TransitionTotal)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStatus sets the binary gauge for machine/status to 1 and every
// other status for that machine to 0, so a Grafana panel can sum by
// status without double-counting.
func (m *Metrics) ObserveStatus(machine string, current status.Status) {
	for _, s := range status.Values() {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.MachineStatus.WithLabelValues(machine, string(s)).Set(v)
	}
}

// ObserveTransition records a completed transition's duration and
// outcome.
func (m *Metrics) ObserveTransition(machine, from, to, outcome string, seconds float64) {
	m.TransitionDuration.WithLabelValues(machine, from, to, outcome).Observe(seconds)
	m.TransitionTotal.WithLabelValues(machine, outcome).Inc()
}

// ObserveFault increments the fault counter for a machine/device pair.
func (m *Metrics) ObserveFault(machine string, devices []string) {
	if len(devices) == 0 {
		m.FaultTotal.WithLabelValues(machine, "").Inc()
		return
	}
	for _, d := range devices {
		m.FaultTotal.WithLabelValues(machine, d).Inc()
	}
}
