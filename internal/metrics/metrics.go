// Package metrics wires one Prometheus registry for the whole agent
// process, following the same registry + Go/process collector bootstrap
// the teacher's own command-line tools use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every counter/histogram the agent's subsystems update.
type Metrics struct {
	Registry *prometheus.Registry

	ChecksPerformed  *prometheus.CounterVec
	ProbeLatencySecs prometheus.Histogram
	ReportFailures   prometheus.Counter
	HeartbeatFailures prometheus.Counter
}

// New builds a registry with the standard Go/process collectors plus the
// agent's own metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		ChecksPerformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_checks_performed_total",
			Help: "Total probe checks performed, partitioned by outcome.",
		}, []string{"outcome"}),
		ProbeLatencySecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_probe_latency_seconds",
			Help:    "Observed probe round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ReportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_report_failures_total",
			Help: "Total failed status reports to the server.",
		}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_heartbeat_failures_total",
			Help: "Total failed heartbeat posts to the server.",
		}),
	}
	reg.MustRegister(m.ChecksPerformed, m.ProbeLatencySecs, m.ReportFailures, m.HeartbeatFailures)
	return m
}
