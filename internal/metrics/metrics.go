// Package metrics is the kernel debug metrics interface (spec.md §6
// "KernelDebugMetricsRequest{message_id, respond(&metrics_str)}"),
// implemented on top of github.com/prometheus/client_golang so the
// embedder can either render the Prometheus text format directly for
// KernelDebugMetricsRequest, or expose /metrics itself.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds every gauge/counter spec.md §6 names.
type Metrics struct {
	registry *prometheus.Registry

	ProcessesStarted prometheus.Counter
	ProcessesEnded   *prometheus.CounterVec // label "reason"
	CPUSeconds       *prometheus.CounterVec // label "cpu"
	MonotonicClock   prometheus.Gauge
	StartedCPUs      prometheus.Gauge
}

// New registers every metric spec.md §6 names against a private registry
// (never the global default, so multiple System instances in one process
// don't collide).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ProcessesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redshirt_processes_started_total",
			Help: "Total number of processes started.",
		}),
		ProcessesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redshirt_processes_ended_total",
			Help: "Total number of processes that stopped existing, by reason.",
		}, []string{"reason"}),
		CPUSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redshirt_cpu_seconds_total",
			Help: "CPU time spent executing Wasm code, by scheduler worker.",
		}, []string{"cpu"}),
		MonotonicClock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redshirt_monotonic_clock",
			Help: "Kernel monotonic clock, in nanoseconds since boot.",
		}),
		StartedCPUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "redshirt_started_cpus",
			Help: "Number of scheduler worker goroutines currently running.",
		}),
	}
	reg.MustRegister(m.ProcessesStarted, m.ProcessesEnded, m.CPUSeconds, m.MonotonicClock, m.StartedCPUs)
	return m
}

// Handler exposes the metrics over HTTP for embedders that want a /metrics
// endpoint in addition to (or instead of) KernelDebugMetricsRequest.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RenderText answers spec.md §6's KernelDebugMetricsRequest.respond(&str):
// it gathers every registered metric and renders it in the same expfmt text
// exposition format promhttp.Handler serves on /metrics, via
// github.com/prometheus/common/expfmt rather than a hand-rolled formatter.
func (m *Metrics) RenderText() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
