// Package metrics 以 Prometheus 格式暴露服务指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SmartBI-Agent/internal/engine"
)

const namespace = "smartbi"

// Registry 聚合全部指标，同时实现 engine.Observer、llm.Observer 与 task.Observer。
type Registry struct {
	reg *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpErrors     *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	scriptDuration prometheus.Histogram
	generations    *prometheus.CounterVec
	genDuration    *prometheus.HistogramVec
	queries        *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
}

// New 创建独立的指标注册表。
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of engine tool calls by outcome.",
		}, []string{"tool", "outcome"}),
		scriptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_duration_seconds",
			Help:      "Duration of run_script executions in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of language model generations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		genDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Language model generation latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_processed_total",
			Help:      "Total number of async query deliveries by priority and outcome.",
		}, []string{"priority", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent answering an async query, by priority.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"priority"}),
	}
	r.reg.MustRegister(
		r.httpRequests,
		r.httpErrors,
		r.httpDuration,
		r.toolCalls,
		r.scriptDuration,
		r.generations,
		r.genDuration,
		r.queries,
		r.queryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var defaultRegistry = New()

// Default 返回进程级默认注册表。
func Default() *Registry { return defaultRegistry }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTool 实现 engine.Observer。
func (r *Registry) ObserveTool(tool string, outcome engine.Outcome, elapsed time.Duration) {
	r.toolCalls.WithLabelValues(tool, string(outcome)).Inc()
	if tool == engine.ToolRunScript {
		r.scriptDuration.Observe(elapsed.Seconds())
	}
}

// ObserveGeneration 实现 llm.Observer。
func (r *Registry) ObserveGeneration(provider, outcome string, elapsed time.Duration) {
	r.generations.WithLabelValues(provider, outcome).Inc()
	r.genDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveQuery 实现 task.Observer。
func (r *Registry) ObserveQuery(priority, outcome string, elapsed time.Duration) {
	r.queries.WithLabelValues(priority, outcome).Inc()
	r.queryDuration.WithLabelValues(priority).Observe(elapsed.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer 返回底层注册表，便于测试读取。
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveHTTPRequest 记录到默认注册表。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultRegistry.ObserveHTTPRequest(handler, method, status, duration)
}

// Handler 暴露默认注册表。
func Handler() http.Handler { return defaultRegistry.Handler() }

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if handler == nil {
		handler = Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
