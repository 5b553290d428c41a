package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions       prometheus.Gauge
	sessionSweepRemovals prometheus.Counter
	sessionLoadDuration  prometheus.Histogram
	sessionSaveDuration  prometheus.Histogram

	agentTurnTotal    *prometheus.CounterVec
	agentTurnDuration *prometheus.HistogramVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	knowledgeSearchDuration prometheus.Histogram
	knowledgeSyncDuration   prometheus.Histogram
	knowledgeChunksTotal    prometheus.Gauge

	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current live session count.",
				},
			),
			sessionSweepRemovals: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_sweep_removals_total",
					Help: "Total expired sessions removed by the sweeper.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			agentTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turn_total",
					Help: "Total agent turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Agent turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_call_total",
					Help: "Total model backend calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model backend call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			knowledgeSearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "knowledge_search_duration_seconds",
					Help:    "Knowledge base search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			knowledgeSyncDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "knowledge_sync_duration_seconds",
					Help:    "Knowledge base sync duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			knowledgeChunksTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "knowledge_chunks_total",
					Help: "Total chunks indexed in the knowledge base.",
				},
			),
			httpRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_request_total",
					Help: "Total HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionSweepRemovals,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.agentTurnTotal,
			m.agentTurnDuration,
			m.modelCallTotal,
			m.modelCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.knowledgeSearchDuration,
			m.knowledgeSyncDuration,
			m.knowledgeChunksTotal,
			m.httpRequestTotal,
			m.httpRequestDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionSweep(removed int) {
	m := getMetrics()
	m.sessionSweepRemovals.Add(float64(removed))
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func RecordAgentTurn(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentTurnTotal.WithLabelValues(provider, status).Inc()
	m.agentTurnDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(provider, status).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordKnowledgeSearch(duration time.Duration) {
	m := getMetrics()
	m.knowledgeSearchDuration.Observe(duration.Seconds())
}

func RecordKnowledgeSync(duration time.Duration) {
	m := getMetrics()
	m.knowledgeSyncDuration.Observe(duration.Seconds())
}

func SetKnowledgeChunks(total int) {
	m := getMetrics()
	m.knowledgeChunksTotal.Set(float64(total))
}

func RecordHTTPRequest(route string, code string, duration time.Duration) {
	m := getMetrics()
	m.httpRequestTotal.WithLabelValues(route, code).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
