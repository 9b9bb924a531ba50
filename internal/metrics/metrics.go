// Package metrics exposes the dispatch fabric's observational Prometheus
// series. None of these feed back into dispatch decisions — metrics
// here are for operators and the load generator, never for fairness.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Registry bundles every collector the control plane publishes.
type Registry struct {
	PoolSize       prometheus.Gauge
	Selections     *prometheus.CounterVec
	InFlight       prometheus.Gauge
	InvokeLatency  prometheus.Histogram
	Respawns       prometheus.Counter
	DispatchErrors *prometheus.CounterVec
	HostCPUPercent prometheus.Gauge
	HostMemPercent prometheus.Gauge
}

// New registers every collector against its own registry (not the global
// default one, so multiple Registry instances can coexist in tests).
func New() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	r := &Registry{
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faasd",
			Name:      "pool_size",
			Help:      "Number of worker slots currently managed by the supervisor.",
		}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faasd",
			Name:      "dispatch_selections_total",
			Help:      "Selections made by the dispatcher, labeled by policy.",
		}, []string{"policy"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faasd",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently submitted to a worker and awaiting reply.",
		}),
		InvokeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "faasd",
			Name:      "invoke_latency_seconds",
			Help:      "End-to-end latency of a dispatched invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
		Respawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "faasd",
			Name:      "worker_respawns_total",
			Help:      "Worker respawns performed by the supervisor.",
		}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faasd",
			Name:      "dispatch_errors_total",
			Help:      "Dispatch failures, labeled by the sentinel error returned.",
		}, []string{"reason"}),
		HostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faasd",
			Name:      "host_cpu_percent",
			Help:      "Host-wide CPU utilization sampled periodically, for ops visibility alongside pool pressure.",
		}),
		HostMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "faasd",
			Name:      "host_mem_percent",
			Help:      "Host-wide memory utilization sampled periodically.",
		}),
	}

	reg.MustRegister(r.PoolSize, r.Selections, r.InFlight, r.InvokeLatency, r.Respawns, r.DispatchErrors, r.HostCPUPercent, r.HostMemPercent)
	return r, reg
}

// StartHostSampler periodically samples host CPU and memory utilization via
// gopsutil and updates the corresponding gauges, until ctx is canceled.
// This is purely observational: it never feeds back into dispatch.
func (r *Registry) StartHostSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
					r.HostCPUPercent.Set(pcts[0])
				}
				if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
					r.HostMemPercent.Set(vm.UsedPercent)
				}
			}
		}
	}()
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
