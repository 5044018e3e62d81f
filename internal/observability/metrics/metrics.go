package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swappilot"

// Metrics 汇总任务、对账与 HTTP 入口的 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	reconcileChecked *prometheus.CounterVec
	reconcileUpdated *prometheus.CounterVec
	reconcileErrors  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New 创建指标集合并注册到独立的 Registry。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of job runs by outcome.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job run duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		reconcileChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_checked_total",
			Help:      "Orders polled by the monitor, per family.",
		}, []string{"family"}),
		reconcileUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_updated_total",
			Help:      "Orders whose status changed during reconciliation, per family.",
		}, []string{"family"}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Orders that failed to reconcile, per family.",
		}, []string{"family"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobRuns, m.jobDuration,
		m.reconcileChecked, m.reconcileUpdated, m.reconcileErrors,
		m.httpRequests, m.httpLatency,
	)
	return m
}

// ObserveRun 记录一次任务执行。
func (m *Metrics) ObserveRun(job, status string, duration time.Duration) {
	m.jobRuns.WithLabelValues(job, status).Inc()
	if status == "ok" || status == "error" {
		m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// ObserveReconcile 记录一个订单族的对账结果。
func (m *Metrics) ObserveReconcile(family string, checked, updated, errors int) {
	m.reconcileChecked.WithLabelValues(family).Add(float64(checked))
	m.reconcileUpdated.WithLabelValues(family).Add(float64(updated))
	m.reconcileErrors.WithLabelValues(family).Add(float64(errors))
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 Registry，便于测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
