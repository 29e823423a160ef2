package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
)

// Metrics is a small prometheus-text-format registry. It avoids pulling the
// full prometheus client for the handful of series this service emits.
type Metrics struct {
	enabled bool

	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	llmRequests *CounterVec
	llmLatency  *HistogramVec
	llmTokens   *CounterVec

	turnTotal   *CounterVec
	turnLatency *HistogramVec

	extractionFailures *CounterVec
	conflictsFlagged   *Counter
	sessionsActive     *Gauge
}

var (
	instance *Metrics
	initOnce sync.Once
)

func Current() *Metrics {
	initOnce.Do(func() {
		instance = newMetrics(envutil.Bool("METRICS_ENABLED", true))
	})
	return instance
}

func newMetrics(enabled bool) *Metrics {
	latencyBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &Metrics{
		enabled:            enabled,
		apiRequests:        newCounterVec("counselbridge_api_requests_total", []string{"method", "route", "status"}),
		apiLatency:         newHistogramVec("counselbridge_api_latency_seconds", []string{"method", "route"}, latencyBuckets),
		apiInflight:        &Gauge{name: "counselbridge_api_inflight"},
		llmRequests:        newCounterVec("counselbridge_llm_requests_total", []string{"op", "model", "status"}),
		llmLatency:         newHistogramVec("counselbridge_llm_latency_seconds", []string{"op", "model"}, latencyBuckets),
		llmTokens:          newCounterVec("counselbridge_llm_tokens_total", []string{"op", "model", "direction"}),
		turnTotal:          newCounterVec("counselbridge_turns_total", []string{"phase", "action"}),
		turnLatency:        newHistogramVec("counselbridge_turn_latency_seconds", []string{"phase"}, latencyBuckets),
		extractionFailures: newCounterVec("counselbridge_extraction_failures_total", []string{"reason"}),
		conflictsFlagged:   &Counter{name: "counselbridge_conflicts_flagged_total"},
		sessionsActive:     &Gauge{name: "counselbridge_sessions_active"},
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if !m.Enabled() {
		return
	}
	m.apiRequests.Inc(method, route, fmt.Sprintf("%d", status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflightAdd(delta float64) {
	if !m.Enabled() {
		return
	}
	m.apiInflight.Add(delta)
}

func (m *Metrics) ObserveLLMRequest(op, model string, status int, dur time.Duration, tokensIn, tokensOut int, err error) {
	if !m.Enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else if status >= 400 {
		outcome = fmt.Sprintf("%d", status)
	}
	m.llmRequests.Inc(op, model, outcome)
	m.llmLatency.Observe(dur.Seconds(), op, model)
	if tokensIn > 0 {
		m.llmTokens.Add(float64(tokensIn), op, model, "in")
	}
	if tokensOut > 0 {
		m.llmTokens.Add(float64(tokensOut), op, model, "out")
	}
}

func (m *Metrics) ObserveTurn(phase, action string, dur time.Duration) {
	if !m.Enabled() {
		return
	}
	m.turnTotal.Inc(phase, action)
	m.turnLatency.Observe(dur.Seconds(), phase)
}

func (m *Metrics) IncExtractionFailure(reason string) {
	if !m.Enabled() {
		return
	}
	m.extractionFailures.Inc(reason)
}

func (m *Metrics) IncConflictsFlagged(n int) {
	if !m.Enabled() || n <= 0 {
		return
	}
	m.conflictsFlagged.Add(float64(n))
}

func (m *Metrics) SetSessionsActive(n float64) {
	if !m.Enabled() {
		return
	}
	m.sessionsActive.Set(n)
}

func (m *Metrics) WritePrometheus(w io.Writer) {
	if !m.Enabled() {
		return
	}
	m.apiRequests.write(w)
	m.apiLatency.write(w)
	m.apiInflight.write(w)
	m.llmRequests.write(w)
	m.llmLatency.write(w)
	m.llmTokens.write(w)
	m.turnTotal.write(w)
	m.turnLatency.write(w)
	m.extractionFailures.write(w)
	m.conflictsFlagged.write(w)
	m.sessionsActive.write(w)
}

type Counter struct {
	name string
	mu   sync.Mutex
	val  float64
}

func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) write(w io.Writer) {
	c.mu.Lock()
	v := c.val
	c.mu.Unlock()
	fmt.Fprintf(w, "# TYPE %s counter\n%s %g\n", c.name, c.name, v)
}

type Gauge struct {
	name string
	mu   sync.Mutex
	val  float64
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.val += v
	g.mu.Unlock()
}

func (g *Gauge) write(w io.Writer) {
	g.mu.Lock()
	v := g.val
	g.mu.Unlock()
	fmt.Fprintf(w, "# TYPE %s gauge\n%s %g\n", g.name, g.name, v)
}

type CounterVec struct {
	name   string
	labels []string
	mu     sync.Mutex
	vals   map[string]float64
}

func newCounterVec(name string, labels []string) *CounterVec {
	return &CounterVec{name: name, labels: labels, vals: map[string]float64{}}
}

func (c *CounterVec) Inc(labelVals ...string) { c.Add(1, labelVals...) }

func (c *CounterVec) Add(v float64, labelVals ...string) {
	key := labelString(c.labels, labelVals)
	c.mu.Lock()
	c.vals[key] += v
	c.mu.Unlock()
}

func (c *CounterVec) write(w io.Writer) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.vals))
	for k := range c.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s} %g\n", c.name, k, c.vals[k])
	}
	c.mu.Unlock()
}

type histogram struct {
	buckets []float64
	counts  []float64
	sum     float64
	count   float64
}

type HistogramVec struct {
	name    string
	labels  []string
	buckets []float64
	mu      sync.Mutex
	vals    map[string]*histogram
}

func newHistogramVec(name string, labels []string, buckets []float64) *HistogramVec {
	return &HistogramVec{name: name, labels: labels, buckets: buckets, vals: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, labelVals ...string) {
	key := labelString(h.labels, labelVals)
	h.mu.Lock()
	hist, ok := h.vals[key]
	if !ok {
		hist = &histogram{buckets: h.buckets, counts: make([]float64, len(h.buckets))}
		h.vals[key] = hist
	}
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.sum += v
	hist.count++
	h.mu.Unlock()
}

func (h *HistogramVec) write(w io.Writer) {
	h.mu.Lock()
	keys := make([]string, 0, len(h.vals))
	for k := range h.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)
	for _, k := range keys {
		hist := h.vals[k]
		for i, b := range hist.buckets {
			fmt.Fprintf(w, "%s_bucket{%s} %g\n", h.name, withLe(k, fmt.Sprintf("%g", b)), hist.counts[i])
		}
		fmt.Fprintf(w, "%s_bucket{%s} %g\n", h.name, withLe(k, "+Inf"), hist.count)
		fmt.Fprintf(w, "%s_sum{%s} %g\n", h.name, k, hist.sum)
		fmt.Fprintf(w, "%s_count{%s} %g\n", h.name, k, hist.count)
	}
	h.mu.Unlock()
}

func labelString(names, vals []string) string {
	parts := make([]string, 0, len(names))
	for i, n := range names {
		v := ""
		if i < len(vals) {
			v = vals[i]
		}
		parts = append(parts, n+`="`+escapeLabel(v)+`"`)
	}
	return strings.Join(parts, ",")
}

func withLe(labels, le string) string {
	if labels == "" {
		return `le="` + le + `"`
	}
	return labels + `,le="` + le + `"`
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}
