// Package metrics provides a small Prometheus-compatible collector exposed
// on /metrics, in text exposition format, without pulling in the full
// prometheus/client_golang dependency.
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

type CollectorSet struct {
	counters  sync.Map // name -> *Counter
	gauges    sync.Map // name -> *Gauge
	histos    sync.Map // name -> *Histogram
	startTime time.Time
}

func NewCollector() *CollectorSet {
	return &CollectorSet{startTime: time.Now()}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a distribution of observed values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

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

func (c *CollectorSet) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(name, &Counter{name: name, help: help})
	return actual.(*Counter)
}

func (c *CollectorSet) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(name, &Gauge{name: name, help: help})
	return actual.(*Gauge)
}

func (c *CollectorSet) Histogram(name, help string, bounds []float64) *Histogram {
	if v, ok := c.histos.Load(name); ok {
		return v.(*Histogram)
	}
	sort.Float64s(bounds)
	h := &Histogram{name: name, help: help, bounds: bounds, buckets: make([]int64, len(bounds))}
	actual, _ := c.histos.LoadOrStore(name, h)
	return actual.(*Histogram)
}

// Handler renders all metrics in Prometheus text format.
func (c *CollectorSet) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP pixbot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE pixbot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "pixbot_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

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
		c.histos.Range(func(_, value any) bool {
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

// Metrics used across the application.
var (
	EventsTotal      = Collector.Counter("pixbot_events_total", "Webhook events received")
	DuplicatesTotal  = Collector.Counter("pixbot_duplicate_events_total", "Events suppressed by deduplication")
	ProcessedTotal   = Collector.Counter("pixbot_events_processed_total", "Events that entered the image pipeline")
	GenerateFailures = Collector.Counter("pixbot_generate_failures_total", "Generative calls that failed after retry")
	PublishesTotal   = Collector.Counter("pixbot_publishes_total", "Images published back to the platform")
	PublishFailures  = Collector.Counter("pixbot_publish_failures_total", "File publishes that failed")
	TasksInFlight    = Collector.Gauge("pixbot_tasks_in_flight", "Background event tasks currently running")

	GenerateLatency = Collector.Histogram("pixbot_generate_latency_seconds", "Generative call latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)
