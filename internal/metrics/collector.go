// Package metrics provides a small Prometheus-compatible collector that
// renders text exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values with fixed buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(name, &Counter{name: name, help: help})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(name, &Gauge{name: name, help: help})
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given bucket bounds.
func (c *MetricsCollector) Histogram(name, help string, bounds []float64) *Histogram {
	if v, ok := c.histograms.Load(name); ok {
		return v.(*Histogram)
	}
	sort.Float64s(bounds)
	h := &Histogram{name: name, help: help, bounds: bounds, buckets: make([]int64, len(bounds))}
	actual, _ := c.histograms.LoadOrStore(name, h)
	return actual.(*Histogram)
}

// Handler renders all metrics in Prometheus text exposition format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP nanobot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE nanobot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "nanobot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

		c.counters.Range(func(_, value any) bool {
			ctr := value.(*Counter)
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", ctr.name, ctr.help, ctr.name, ctr.name, ctr.Value())
			return true
		})

		c.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", g.name, g.help, g.name, g.name, g.Value())
			return true
		})

		c.histograms.Range(func(_, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			for i, le := range h.bounds {
				fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, le, h.buckets[i])
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// Metrics used across the runtime.
var (
	MessagesTotal    = Collector.Counter("nanobot_messages_total", "Messages processed by the agent loop")
	OutboundTotal    = Collector.Counter("nanobot_outbound_total", "Replies dispatched to channels")
	LLMRequestsTotal = Collector.Counter("nanobot_llm_requests_total", "Chat completion requests sent to providers")
	ToolExecutions   = Collector.Counter("nanobot_tool_executions_total", "Tool invocations dispatched by the registry")
	RelayCommands    = Collector.Counter("nanobot_relay_commands_total", "Commands forwarded to the browser extension")
	RelayTimeouts    = Collector.Counter("nanobot_relay_timeouts_total", "Relay commands that expired unanswered")
	CronFires        = Collector.Counter("nanobot_cron_fires_total", "Scheduled jobs fired into the agent loop")
	SubagentsActive  = Collector.Gauge("nanobot_subagents_active", "Background subagent tasks currently running")

	LLMLatency = Collector.Histogram("nanobot_llm_latency_seconds", "Chat completion latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ToolLatency = Collector.Histogram("nanobot_tool_latency_seconds", "Tool execution latency in seconds",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
)
