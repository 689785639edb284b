package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this runtime exposes, grounded
// on pkg/observability/metrics.go's per-subsystem CounterVec/HistogramVec
// layout but scoped to this runtime's components (reasoning loop, model
// calls, tool dispatch, memory/instinct lookups, channel HTTP traffic,
// scheduler/flow runs) rather than the teacher's agent/RAG/session set.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	agentTurns        *prometheus.CounterVec
	agentTurnDuration *prometheus.HistogramVec

	modelCalls        *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelTokensInput  *prometheus.CounterVec
	modelTokensOutput *prometheus.CounterVec
	modelErrors       *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	memorySearches  *prometheus.CounterVec
	memorySearchDur *prometheus.HistogramVec
	instinctsLearned *prometheus.CounterVec

	flowRuns     *prometheus.CounterVec
	flowStepDur  *prometheus.HistogramVec
	reminders    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds a fresh, self-contained registry. namespace prefixes
// every metric name (e.g. "ken"); pass "" for no prefix.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{namespace: namespace, registry: prometheus.NewRegistry()}
	m.initAgentMetrics()
	m.initModelMetrics()
	m.initToolMetrics()
	m.initMemoryMetrics()
	m.initFlowMetrics()
	m.initHTTPMetrics()
	return m
}

func (m *Metrics) initAgentMetrics() {
	m.agentTurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "agent", Name: "turns_total",
		Help: "Total number of reasoning-loop turns run to completion.",
	}, []string{"channel"})
	m.agentTurnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "agent", Name: "turn_duration_seconds",
		Help: "Wall-clock duration of a full reasoning-loop turn.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"channel"})
	m.registry.MustRegister(m.agentTurns, m.agentTurnDuration)
}

func (m *Metrics) initModelMetrics() {
	m.modelCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "model", Name: "calls_total",
		Help: "Total number of model completion calls.",
	}, []string{"model", "provider"})
	m.modelCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "model", Name: "call_duration_seconds",
		Help: "Model completion call latency.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"model", "provider"})
	m.modelTokensInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "model", Name: "tokens_input_total",
		Help: "Total input tokens consumed.",
	}, []string{"model", "provider"})
	m.modelTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "model", Name: "tokens_output_total",
		Help: "Total output tokens generated.",
	}, []string{"model", "provider"})
	m.modelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "model", Name: "errors_total",
		Help: "Total model call errors.",
	}, []string{"model", "provider"})
	m.registry.MustRegister(m.modelCalls, m.modelCallDuration, m.modelTokensInput, m.modelTokensOutput, m.modelErrors)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total tool dispatch invocations.",
	}, []string{"tool"})
	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help: "Tool dispatch latency.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool"})
	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total tool dispatch errors.",
	}, []string{"tool"})
	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initMemoryMetrics() {
	m.memorySearches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "memory", Name: "searches_total",
		Help: "Total memory/instinct relevance searches.",
	}, []string{"index"})
	m.memorySearchDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "memory", Name: "search_duration_seconds",
		Help: "Memory/instinct search latency.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"index"})
	m.instinctsLearned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "memory", Name: "instincts_learned_total",
		Help: "Total instincts created or reinforced by the passive observer.",
	}, []string{"domain"})
	m.registry.MustRegister(m.memorySearches, m.memorySearchDur, m.instinctsLearned)
}

func (m *Metrics) initFlowMetrics() {
	m.flowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "flow", Name: "runs_total",
		Help: "Total flow runs by terminal status.",
	}, []string{"flow", "status"})
	m.flowStepDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "flow", Name: "step_duration_seconds",
		Help: "Flow step execution latency.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"flow"})
	m.reminders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "scheduler", Name: "reminders_fired_total",
		Help: "Total reminders delivered by the scheduler.",
	}, []string{"channel"})
	m.registry.MustRegister(m.flowRuns, m.flowStepDur, m.reminders)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "requests_total",
		Help: "Total HTTP channel requests.",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP channel request latency.", Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// RecordAgentTurn records one completed reasoning-loop turn.
func (m *Metrics) RecordAgentTurn(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentTurns.WithLabelValues(channel).Inc()
	m.agentTurnDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordModelCall records a completed model.Complete invocation.
func (m *Metrics) RecordModelCall(model, provider string, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(model, provider).Inc()
	m.modelCallDuration.WithLabelValues(model, provider).Observe(d.Seconds())
	if inputTokens > 0 {
		m.modelTokensInput.WithLabelValues(model, provider).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.modelTokensOutput.WithLabelValues(model, provider).Add(float64(outputTokens))
	}
}

// RecordModelError records a failed model call.
func (m *Metrics) RecordModelError(model, provider string) {
	if m == nil {
		return
	}
	m.modelErrors.WithLabelValues(model, provider).Inc()
}

// RecordToolCall records a tool dispatch outcome.
func (m *Metrics) RecordToolCall(tool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
	if failed {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

// RecordMemorySearch records a Store.Search/Applicable call.
func (m *Metrics) RecordMemorySearch(index string, d time.Duration) {
	if m == nil {
		return
	}
	m.memorySearches.WithLabelValues(index).Inc()
	m.memorySearchDur.WithLabelValues(index).Observe(d.Seconds())
}

// RecordInstinctLearned records the observer creating/reinforcing an instinct.
func (m *Metrics) RecordInstinctLearned(domain string) {
	if m == nil {
		return
	}
	m.instinctsLearned.WithLabelValues(domain).Inc()
}

// RecordFlowRun records a flow reaching a terminal status.
func (m *Metrics) RecordFlowRun(flow, status string) {
	if m == nil {
		return
	}
	m.flowRuns.WithLabelValues(flow, status).Inc()
}

// RecordFlowStep records one flow step's execution latency.
func (m *Metrics) RecordFlowStep(flow string, d time.Duration) {
	if m == nil {
		return
	}
	m.flowStepDur.WithLabelValues(flow).Observe(d.Seconds())
}

// RecordReminderFired records a reminder delivered via channel.
func (m *Metrics) RecordReminderFired(channel string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(channel).Inc()
}

// RecordHTTPRequest records one HTTP channel request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
