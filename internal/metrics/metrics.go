// Package metrics exposes run counters in the Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one run. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Results       *prometheus.CounterVec
	FlakyRetries  prometheus.Counter
	Outstanding   prometheus.Gauge
	PhaseDuration *prometheus.GaugeVec
	DeviceGroups  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardrun_test_results_total",
			Help: "Test results by status and build system",
		}, []string{"status", "build_system"}),
		FlakyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardrun_flaky_retries_total",
			Help: "Failures rescheduled as flaky",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardrun_tasks_outstanding",
			Help: "Tasks submitted and not yet resolved",
		}),
		PhaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardrun_phase_duration_seconds",
			Help: "Wall time spent in each phase",
		}, []string{"phase"}),
		DeviceGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardrun_device_groups",
			Help: "Device groups discovered",
		}),
	}
	m.Registry.MustRegister(m.Results, m.FlakyRetries, m.Outstanding, m.PhaseDuration, m.DeviceGroups)
	return m
}

func (m *Metrics) ObserveResult(status, buildSystem string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(status, buildSystem).Inc()
}

func (m *Metrics) ObserveRetries(n int) {
	if m == nil {
		return
	}
	m.FlakyRetries.Add(float64(n))
}

func (m *Metrics) SetOutstanding(n int) {
	if m == nil {
		return
	}
	m.Outstanding.Set(float64(n))
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Set(d.Seconds())
}

func (m *Metrics) SetDeviceGroups(n int) {
	if m == nil {
		return
	}
	m.DeviceGroups.Set(float64(n))
}

// WriteFile writes every collector in node-exporter textfile format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
