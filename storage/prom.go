// Package storage persists and exposes benchmark results: a Parquet file of
// every outcome and Prometheus metrics for the run.
package storage

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rustfs-bench/bench"
)

// Metric names, shared with the dashboard generator.
const (
	MetricOperations          = "rustfs_bench_operations_total"
	MetricLatency             = "rustfs_bench_operation_latency_ms"
	MetricAverageLatency      = "rustfs_bench_average_latency_ms"
	MetricThroughput          = "rustfs_bench_throughput_ops"
	MetricSuccessRate         = "rustfs_bench_success_rate_pct"
	MetricBatchThroughput     = "rustfs_bench_batch_throughput_mbps"
	MetricBatchConcurrency    = "rustfs_bench_batch_concurrency"
	MetricCombinedSuccessRate = "rustfs_bench_combined_success_rate_pct"
	MetricHostCPU             = "rustfs_bench_host_cpu_utilization"
	MetricHostMemory          = "rustfs_bench_host_memory_utilization"
	MetricHostNetwork         = "rustfs_bench_host_network_bytes"
)

// PrometheusExporter handles Prometheus metrics collection and serving
type PrometheusExporter struct {
	registry *prometheus.Registry

	operationsCounter *prometheus.CounterVec
	latencyHistogram  *prometheus.HistogramVec
	avgLatencyGauge   *prometheus.GaugeVec
	throughputGauge   *prometheus.GaugeVec
	successRateGauge  *prometheus.GaugeVec
	batchThroughput   prometheus.Gauge
	batchConcurrency  prometheus.Gauge
	combinedSuccess   prometheus.Gauge
	cpuGauge          prometheus.Gauge
	memoryGauge       prometheus.Gauge
	networkGauge      *prometheus.GaugeVec

	mutex  sync.Mutex
	server *http.Server
}

// NewPrometheusExporter creates an exporter with its own registry so several
// exporters can coexist in one process.
func NewPrometheusExporter() *PrometheusExporter {
	exporter := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		operationsCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricOperations,
				Help: "Total number of operations by kind and status",
			},
			[]string{"kind", "status"},
		),
		latencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricLatency,
				Help:    "Operation latency in milliseconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1ms to ~33s
			},
			[]string{"kind"},
		),
		avgLatencyGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricAverageLatency,
				Help: "Average latency of successful operations in milliseconds",
			},
			[]string{"kind"},
		),
		throughputGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricThroughput,
				Help: "Successful operations per second",
			},
			[]string{"kind"},
		),
		successRateGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricSuccessRate,
				Help: "Success rate percentage by kind",
			},
			[]string{"kind"},
		),
		batchThroughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBatchThroughput,
			Help: "Aggregate throughput of the concurrent upload batch in MB/s",
		}),
		batchConcurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBatchConcurrency,
			Help: "Number of concurrent uploads in the batch",
		}),
		combinedSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCombinedSuccessRate,
			Help: "Success rate percentage across all kinds",
		}),
		cpuGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHostCPU,
			Help: "Host CPU utilization percentage",
		}),
		memoryGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHostMemory,
			Help: "Host memory utilization percentage",
		}),
		networkGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricHostNetwork,
				Help: "Host network bytes by direction",
			},
			[]string{"direction"},
		),
	}

	exporter.registry.MustRegister(
		exporter.operationsCounter,
		exporter.latencyHistogram,
		exporter.avgLatencyGauge,
		exporter.throughputGauge,
		exporter.successRateGauge,
		exporter.batchThroughput,
		exporter.batchConcurrency,
		exporter.combinedSuccess,
		exporter.cpuGauge,
		exporter.memoryGauge,
		exporter.networkGauge,
	)

	return exporter
}

// Registry returns the registry the exporter's metrics live in.
func (pe *PrometheusExporter) Registry() *prometheus.Registry {
	return pe.registry
}

// Serve starts the /metrics endpoint on addr in the background and returns
// the bound address.
func (pe *PrometheusExporter) Serve(addr string) (string, error) {
	pe.mutex.Lock()
	defer pe.mutex.Unlock()

	if pe.server != nil {
		return "", fmt.Errorf("metrics server already running")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pe.registry, promhttp.HandlerOpts{}))

	pe.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go pe.server.Serve(ln)

	return ln.Addr().String(), nil
}

// Shutdown stops the metrics endpoint if it is running.
func (pe *PrometheusExporter) Shutdown(ctx context.Context) error {
	pe.mutex.Lock()
	srv := pe.server
	pe.server = nil
	pe.mutex.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Observe records a single outcome.
func (pe *PrometheusExporter) Observe(o bench.Outcome) {
	kind := string(o.Kind)
	status := "success"
	if !o.Success {
		status = "failure"
	}
	pe.operationsCounter.WithLabelValues(kind, status).Inc()
	pe.latencyHistogram.WithLabelValues(kind).Observe(float64(o.Elapsed.Microseconds()) / 1000)
}

// RecordStats publishes the reduced statistics of one kind.
func (pe *PrometheusExporter) RecordStats(s bench.Stats) {
	kind := string(s.Kind)
	pe.avgLatencyGauge.WithLabelValues(kind).Set(float64(s.AverageDuration.Microseconds()) / 1000)
	pe.throughputGauge.WithLabelValues(kind).Set(s.ThroughputOpsPerSec)
	pe.successRateGauge.WithLabelValues(kind).Set(s.SuccessRatePct)
}

// RecordBatch publishes the concurrent batch result.
func (pe *PrometheusExporter) RecordBatch(b bench.BatchResult) {
	pe.batchThroughput.Set(b.ThroughputMBps())
	pe.batchConcurrency.Set(float64(b.Concurrency))
}

// RecordReport publishes every statistic of a finished run.
func (pe *PrometheusExporter) RecordReport(r *bench.RunReport) {
	for _, s := range r.Stats {
		pe.RecordStats(s)
	}
	pe.RecordBatch(r.Batch)
	pe.combinedSuccess.Set(r.CombinedSuccessRatePct)
}

// UpdateHostStats updates host resource metrics.
func (pe *PrometheusExporter) UpdateHostStats(cpuPct, memoryPct float64, bytesReceived, bytesSent int64) {
	pe.cpuGauge.Set(cpuPct)
	pe.memoryGauge.Set(memoryPct)
	pe.networkGauge.WithLabelValues("received").Set(float64(bytesReceived))
	pe.networkGauge.WithLabelValues("sent").Set(float64(bytesSent))
}
