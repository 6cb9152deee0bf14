// observability.go: read-only metrics for resolution, caching, pipeline phases and reloads
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters and timings. Components only ever write to it;
// nothing reads it back to make a decision.
type Metrics struct {
	resolutions      atomic.Int64
	resolutionNanos  atomic.Int64
	conflicts        atomic.Int64
	sourceLoads      atomic.Int64
	sourceLoadErrors atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	runs             atomic.Int64
	runFailures      atomic.Int64
	reloads          atomic.Int64
	reloadFailures   atomic.Int64
	rollbacks        atomic.Int64

	mu     sync.Mutex
	phases map[Phase]*PhaseTiming
}

// PhaseTiming aggregates durations of one phase across runs.
type PhaseTiming struct {
	Count int64
	Total time.Duration
	Max   time.Duration
	Last  time.Duration
}

// Average returns the mean duration.
func (t PhaseTiming) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{phases: make(map[Phase]*PhaseTiming)}
}

func (m *Metrics) recordResolution(d time.Duration, conflicts int) {
	m.resolutions.Add(1)
	m.resolutionNanos.Add(d.Nanoseconds())
	m.conflicts.Add(int64(conflicts))
}

func (m *Metrics) recordSourceLoad(err error) {
	m.sourceLoads.Add(1)
	if err != nil {
		m.sourceLoadErrors.Add(1)
	}
}

func (m *Metrics) recordCacheLookup(hit bool) {
	if hit {
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
}

func (m *Metrics) recordRun(err error) {
	m.runs.Add(1)
	if err != nil {
		m.runFailures.Add(1)
	}
}

func (m *Metrics) recordReload(err error) {
	m.reloads.Add(1)
	if err != nil {
		m.reloadFailures.Add(1)
	}
}

func (m *Metrics) recordRollback() {
	m.rollbacks.Add(1)
}

func (m *Metrics) recordPhase(phase Phase, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.phases[phase]
	if !ok {
		t = &PhaseTiming{}
		m.phases[phase] = t
	}
	t.Count++
	t.Total += d
	t.Last = d
	if d > t.Max {
		t.Max = d
	}
}

// MetricsReport is a point-in-time copy of Metrics.
type MetricsReport struct {
	GeneratedAt      time.Time
	Resolutions      int64
	ResolutionTime   time.Duration
	Conflicts        int64
	SourceLoads      int64
	SourceLoadErrors int64
	CacheHits        int64
	CacheMisses      int64
	Runs             int64
	RunFailures      int64
	Reloads          int64
	ReloadFailures   int64
	Rollbacks        int64
	Phases           map[Phase]PhaseTiming
}

// CacheHitRatio returns hits / lookups, or 0 without lookups.
func (r MetricsReport) CacheHitRatio() float64 {
	total := r.CacheHits + r.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(r.CacheHits) / float64(total)
}

// Report returns a snapshot of every metric.
func (m *Metrics) Report() MetricsReport {
	r := MetricsReport{
		GeneratedAt:      timecache.CachedTime(),
		Resolutions:      m.resolutions.Load(),
		ResolutionTime:   time.Duration(m.resolutionNanos.Load()),
		Conflicts:        m.conflicts.Load(),
		SourceLoads:      m.sourceLoads.Load(),
		SourceLoadErrors: m.sourceLoadErrors.Load(),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		Runs:             m.runs.Load(),
		RunFailures:      m.runFailures.Load(),
		Reloads:          m.reloads.Load(),
		ReloadFailures:   m.reloadFailures.Load(),
		Rollbacks:        m.rollbacks.Load(),
		Phases:           make(map[Phase]PhaseTiming),
	}
	m.mu.Lock()
	for p, t := range m.phases {
		r.Phases[p] = *t
	}
	m.mu.Unlock()
	return r
}

// MetricsCollector exposes Metrics as a prometheus.Collector.
type MetricsCollector struct {
	metrics *Metrics

	counters     map[string]*prometheus.Desc
	phaseSeconds *prometheus.Desc
	phaseCount   *prometheus.Desc
}

// NewMetricsCollector wraps m for registration with a prometheus registry.
func NewMetricsCollector(m *Metrics, namespace string) *MetricsCollector {
	if namespace == "" {
		namespace = "envforge"
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &MetricsCollector{
		metrics: m,
		counters: map[string]*prometheus.Desc{
			"resolutions":        desc("resolutions_total", "Completed dependency resolutions."),
			"conflicts":          desc("conflicts_total", "Variable name conflicts detected."),
			"source_loads":       desc("source_loads_total", "Declaration load attempts."),
			"source_load_errors": desc("source_load_errors_total", "Failed declaration load attempts."),
			"cache_hits":         desc("cache_hits_total", "Declaration cache hits."),
			"cache_misses":       desc("cache_misses_total", "Declaration cache misses."),
			"runs":               desc("pipeline_runs_total", "Pipeline runs."),
			"run_failures":       desc("pipeline_run_failures_total", "Failed pipeline runs."),
			"reloads":            desc("reloads_total", "Hot reload cycles."),
			"reload_failures":    desc("reload_failures_total", "Failed hot reload cycles."),
			"rollbacks":          desc("rollbacks_total", "Snapshot rollbacks."),
		},
		phaseSeconds: desc("phase_seconds_total", "Time spent per pipeline phase.", "phase"),
		phaseCount:   desc("phase_executions_total", "Executions per pipeline phase.", "phase"),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	ch <- c.phaseSeconds
	ch <- c.phaseCount
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	r := c.metrics.Report()
	values := map[string]int64{
		"resolutions":        r.Resolutions,
		"conflicts":          r.Conflicts,
		"source_loads":       r.SourceLoads,
		"source_load_errors": r.SourceLoadErrors,
		"cache_hits":         r.CacheHits,
		"cache_misses":       r.CacheMisses,
		"runs":               r.Runs,
		"run_failures":       r.RunFailures,
		"reloads":            r.Reloads,
		"reload_failures":    r.ReloadFailures,
		"rollbacks":          r.Rollbacks,
	}
	for key, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(values[key]))
	}
	for phase, t := range r.Phases {
		ch <- prometheus.MustNewConstMetric(c.phaseSeconds, prometheus.CounterValue, t.Total.Seconds(), phase.String())
		ch <- prometheus.MustNewConstMetric(c.phaseCount, prometheus.CounterValue, float64(t.Count), phase.String())
	}
}
