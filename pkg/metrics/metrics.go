// Package metrics records StreamGuard operational metrics.
//
// Components depend on the small Collector interface; the server wires a
// PrometheusCollector and serves its Handler on /metrics, tests use an
// InMemoryCollector and everything else may pass nil for a NopCollector.
package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Collector is the interface for collecting and reporting metrics.
// Labels are passed as alternating name/value pairs.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return &NopCollector{}
	}
	return c
}

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"`
}

// =============================================================================
// StreamGuard metrics
// =============================================================================

var (
	JobsTotal = MetricDefinition{
		Name:   "jobs_total",
		Type:   MetricTypeCounter,
		Help:   "Jobs finished, by kind and terminal status",
		Labels: []string{"kind", "status"},
	}
	HostRunsTotal = MetricDefinition{
		Name:   "host_runs_total",
		Type:   MetricTypeCounter,
		Help:   "Per-host units finished, by kind and outcome",
		Labels: []string{"kind", "outcome"},
	}
	HostRunDuration = MetricDefinition{
		Name:    "host_run_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Wall time of one per-host unit",
		Labels:  []string{"kind"},
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}
	HostsInFlight = MetricDefinition{
		Name: "hosts_in_flight",
		Type: MetricTypeGauge,
		Help: "Per-host units currently holding a worker",
	}
	ContentFetchTotal = MetricDefinition{
		Name:   "content_fetch_total",
		Type:   MetricTypeCounter,
		Help:   "Content fetches, by mode and result (fetched, fallback, empty)",
		Labels: []string{"mode", "result"},
	}
	ProfileTierTotal = MetricDefinition{
		Name:   "profile_tier_total",
		Type:   MetricTypeCounter,
		Help:   "Profile listings served, by the tier that answered",
		Labels: []string{"tier"},
	}
	EventsPublishedTotal = MetricDefinition{
		Name:   "events_published_total",
		Type:   MetricTypeCounter,
		Help:   "Progress events published, by event name",
		Labels: []string{"event"},
	}
)

// Definitions lists every StreamGuard metric.
func Definitions() []MetricDefinition {
	return []MetricDefinition{
		JobsTotal,
		HostRunsTotal,
		HostRunDuration,
		HostsInFlight,
		ContentFetchTotal,
		ProfileTierTotal,
		EventsPublishedTotal,
	}
}

// =============================================================================
// NopCollector
// =============================================================================

// NopCollector discards all metrics.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) GaugeInc(name string, labels ...string)                        {}
func (c *NopCollector) GaugeDec(name string, labels ...string)                        {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }

// =============================================================================
// InMemoryCollector
// =============================================================================

// InMemoryCollector stores metrics in memory for tests.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	// peaks records the highest value each gauge reached.
	peaks map[string]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		peaks:      make(map[string]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i+1 < len(labels); i += 2 {
		key += "," + labels[i] + "=" + labels[i+1]
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setGauge(c.key(name, labels), value)
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(name, labels)
	c.setGauge(k, c.gauges[k]+1)
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(name, labels)
	c.setGauge(k, c.gauges[k]-1)
}

func (c *InMemoryCollector) setGauge(k string, v float64) {
	c.gauges[k] = v
	if v > c.peaks[k] {
		c.peaks[k] = v
	}
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(name, labels)
	c.histograms[k] = append(c.histograms[k], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetGaugePeak returns the highest value a gauge reached.
func (c *InMemoryCollector) GetGaugePeak(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peaks[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[c.key(name, labels)]
}

// =============================================================================
// Timer
// =============================================================================

// Timer records the time since its creation to a histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer creates a new timer that will record to the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: collector,
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
