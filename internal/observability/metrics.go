package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets. The upper range is wide
// because a single lake build or generation call can run for minutes.
func DefaultBuckets() []float64 {
	return []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler for Prometheus metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes all metrics in Prometheus text format, sorted by
// name so scrapes are stable.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMetric(w io.Writer, name, metricType, help string, labels map[string]string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s%s %s\n", name, formatLabels(labels), formatFloat(value))
}

func writeHistogram(w io.Writer, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), cumulative)
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.count)

	fmt.Fprintf(w, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, formatLabels(h.labels), h.count)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i, k := range sortedKeys(labels) {
		if i > 0 {
			result += ","
		}
		result += k + "=" + strconv.Quote(labels[k])
	}
	return result + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Pipeline-specific metrics

// PipelineMetrics contains all proof pipeline metrics.
type PipelineMetrics struct {
	Registry *MetricsRegistry

	// Session metrics
	SessionsTotal     *Counter
	SessionsSucceeded *Counter
	SessionsExhausted *Counter
	SessionsFatal     *Counter
	SessionDuration   *Histogram

	// Attempt metrics
	AttemptsTotal   *Counter
	VerifyPassTotal *Counter
	VerifyFailTotal *Counter
	VerifyErrTotal  *Counter
	VerifyDuration  *Histogram

	// Judge metrics
	JudgeAcceptTotal *Counter
	JudgeRejectTotal *Counter

	// LLM metrics
	LLMRequestsTotal   *Counter
	LLMRequestDuration *Histogram
	LLMTokensTotal     *Counter
	LLMErrorsTotal     *Counter

	// Batch worker gauge
	ActiveWorkers *Gauge
}

// NewPipelineMetrics creates the proof pipeline metric set.
func NewPipelineMetrics() *PipelineMetrics {
	r := NewMetricsRegistry()

	return &PipelineMetrics{
		Registry: r,

		SessionsTotal:     r.NewCounter("erdos_sessions_total", "Total proof sessions started", nil),
		SessionsSucceeded: r.NewCounter("erdos_sessions_succeeded_total", "Sessions ending in an accepted proof", nil),
		SessionsExhausted: r.NewCounter("erdos_sessions_exhausted_total", "Sessions that ran out of iterations", nil),
		SessionsFatal:     r.NewCounter("erdos_sessions_fatal_total", "Sessions aborted by a fatal error", nil),
		SessionDuration:   r.NewHistogram("erdos_session_duration_seconds", "End-to-end session duration", nil, nil),

		AttemptsTotal:   r.NewCounter("erdos_attempts_total", "Total proof attempts generated", nil),
		VerifyPassTotal: r.NewCounter("erdos_verify_pass_total", "Attempts that passed verification", nil),
		VerifyFailTotal: r.NewCounter("erdos_verify_fail_total", "Attempts rejected by the verifier", nil),
		VerifyErrTotal:  r.NewCounter("erdos_verify_error_total", "Verifier infrastructure errors", nil),
		VerifyDuration:  r.NewHistogram("erdos_verify_duration_seconds", "Verifier run duration", nil, nil),

		JudgeAcceptTotal: r.NewCounter("erdos_judge_accept_total", "Proofs accepted by the judge", nil),
		JudgeRejectTotal: r.NewCounter("erdos_judge_reject_total", "Proofs rejected by the judge", nil),

		LLMRequestsTotal:   r.NewCounter("erdos_llm_requests_total", "Total LLM API requests", nil),
		LLMRequestDuration: r.NewHistogram("erdos_llm_request_duration_seconds", "LLM request duration", nil, nil),
		LLMTokensTotal:     r.NewCounter("erdos_llm_tokens_total", "Total tokens used", nil),
		LLMErrorsTotal:     r.NewCounter("erdos_llm_errors_total", "Total LLM errors", nil),

		ActiveWorkers: r.NewGauge("erdos_active_workers", "Batch workers currently running a session", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *PipelineMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordSession records a finished session by terminal status.
func (m *PipelineMetrics) RecordSession(status string, attempts int, duration time.Duration) {
	m.SessionsTotal.Inc()
	m.AttemptsTotal.Add(float64(attempts))
	m.SessionDuration.Observe(duration.Seconds())
	switch status {
	case "succeeded":
		m.SessionsSucceeded.Inc()
	case "exhausted":
		m.SessionsExhausted.Inc()
	default:
		m.SessionsFatal.Inc()
	}
}

// RecordVerify records one verifier run.
func (m *PipelineMetrics) RecordVerify(outcome string, duration time.Duration) {
	m.VerifyDuration.Observe(duration.Seconds())
	switch outcome {
	case "pass":
		m.VerifyPassTotal.Inc()
	case "fail":
		m.VerifyFailTotal.Inc()
	default:
		m.VerifyErrTotal.Inc()
	}
}

// RecordJudge records one judge verdict.
func (m *PipelineMetrics) RecordJudge(accepted bool) {
	if accepted {
		m.JudgeAcceptTotal.Inc()
	} else {
		m.JudgeRejectTotal.Inc()
	}
}

// RecordLLMRequest records an LLM request.
func (m *PipelineMetrics) RecordLLMRequest(duration time.Duration, tokens int, err error) {
	m.LLMRequestsTotal.Inc()
	m.LLMRequestDuration.Observe(duration.Seconds())
	m.LLMTokensTotal.Add(float64(tokens))
	if err != nil {
		m.LLMErrorsTotal.Inc()
	}
}

// Global metrics instance
var globalMetrics *PipelineMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *PipelineMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPipelineMetrics()
	})
	return globalMetrics
}
