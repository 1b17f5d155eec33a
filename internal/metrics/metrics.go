// Package metrics collects and exposes Prometheus metrics for the
// einhorn master.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all einhorn-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	// Command protocol metrics.
	CommandTotal      *prometheus.CounterVec
	CommandErrorTotal *prometheus.CounterVec

	// Signal control plane metrics.
	SignalTotal *prometheus.CounterVec

	// Supervisory state metrics.
	Children       prometheus.Gauge
	ManualAckTotal prometheus.Counter
	MasterUptime   prometheus.Gauge
	BuildInfo      *prometheus.GaugeVec
}

// New creates and registers all einhorn metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	// Register default Go runtime metrics.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		CommandTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "einhorn_command_total",
				Help: "Total number of control commands dispatched, by command name.",
			},
			[]string{"command"},
		),

		CommandErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "einhorn_command_errors_total",
				Help: "Total number of control commands whose handler failed.",
			},
			[]string{"command"},
		),

		SignalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "einhorn_signal_total",
				Help: "Total number of OS signals acted on by the master, by signal name.",
			},
			[]string{"signal"},
		),

		Children: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "einhorn_children",
				Help: "Number of child processes currently tracked by the master.",
			},
		),

		ManualAckTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "einhorn_manual_ack_total",
				Help: "Total number of worker liveness acks received over the command socket.",
			},
		),

		MasterUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "einhorn_master_uptime_seconds",
				Help: "Uptime of the einhorn master in seconds.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "einhorn_info",
				Help: "Build information about einhorn.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.CommandTotal,
		c.CommandErrorTotal,
		c.SignalTotal,
		c.Children,
		c.ManualAckTotal,
		c.MasterUptime,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// IncCommand increments the dispatch counter for a command.
func (c *Collector) IncCommand(name string) {
	c.CommandTotal.WithLabelValues(name).Inc()
}

// IncCommandError increments the error counter for a command.
func (c *Collector) IncCommandError(name string) {
	c.CommandErrorTotal.WithLabelValues(name).Inc()
}

// IncSignal increments the counter for an acted-on signal.
func (c *Collector) IncSignal(name string) {
	c.SignalTotal.WithLabelValues(name).Inc()
}

// SetChildren sets the tracked child count.
func (c *Collector) SetChildren(n int) {
	c.Children.Set(float64(n))
}

// IncManualAck increments the worker ack counter.
func (c *Collector) IncManualAck() {
	c.ManualAckTotal.Inc()
}

// SetMasterUptime sets the master uptime gauge.
func (c *Collector) SetMasterUptime(seconds float64) {
	c.MasterUptime.Set(seconds)
}
