package iterative

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports refinement activity as Prometheus metrics.
type PrometheusCollector struct {
	iterations     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	iterationScore *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runIterations  *prometheus.HistogramVec
	runsActive     *prometheus.GaugeVec
	kind           string

	// active tracks runs that started an iteration, keyed by run ID
	active sync.Map
}

// NewPrometheusCollector registers the refinement collectors with reg.
// kind labels every series (e.g. "blog_post"). Registration errors other
// than an identical collector already being registered are returned.
func NewPrometheusCollector(reg prometheus.Registerer, kind string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if kind == "" {
		kind = "unknown"
	}

	p := &PrometheusCollector{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refine",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Number of completed refinement iterations.",
		}, []string{"kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refine",
			Subsystem: "loop",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in the producer and critic stages.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"kind", "stage"}),
		iterationScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refine",
			Subsystem: "loop",
			Name:      "iteration_score",
			Help:      "Aggregate score accepted for each iteration.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refine",
			Subsystem: "loop",
			Name:      "runs_total",
			Help:      "Completed refinement runs by termination reason.",
		}, []string{"kind", "reason"}),
		runIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refine",
			Subsystem: "loop",
			Name:      "run_iterations",
			Help:      "Iterations performed per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"kind", "reason"}),
		runsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "refine",
			Subsystem: "loop",
			Name:      "runs_active",
			Help:      "Refinement runs currently in progress.",
		}, []string{"kind"}),
		kind: kind,
	}

	var err error
	if p.iterations, err = register(reg, p.iterations); err != nil {
		return nil, err
	}
	if p.stageDuration, err = register(reg, p.stageDuration); err != nil {
		return nil, err
	}
	if p.iterationScore, err = register(reg, p.iterationScore); err != nil {
		return nil, err
	}
	if p.runs, err = register(reg, p.runs); err != nil {
		return nil, err
	}
	if p.runIterations, err = register(reg, p.runIterations); err != nil {
		return nil, err
	}
	if p.runsActive, err = register(reg, p.runsActive); err != nil {
		return nil, err
	}
	return p, nil
}

// register reuses an identical collector that is already registered, so
// several PrometheusCollectors can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// RecordIterationStart implements MetricsCollector
func (p *PrometheusCollector) RecordIterationStart(runID string, iteration int) {
	if _, loaded := p.active.LoadOrStore(runID, struct{}{}); !loaded {
		p.runsActive.WithLabelValues(p.kind).Inc()
	}
}

// RecordIterationEnd implements MetricsCollector
func (p *PrometheusCollector) RecordIterationEnd(runID string, metrics *IterationMetrics) {
	if metrics == nil {
		return
	}
	p.iterations.WithLabelValues(p.kind).Inc()
	p.stageDuration.WithLabelValues(p.kind, "produce").Observe(metrics.ProduceDuration.Seconds())
	p.stageDuration.WithLabelValues(p.kind, "critique").Observe(metrics.CritiqueDuration.Seconds())
	p.iterationScore.WithLabelValues(p.kind).Observe(float64(metrics.Aggregate))
}

// RecordRunComplete implements MetricsCollector
func (p *PrometheusCollector) RecordRunComplete(metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	if _, started := p.active.LoadAndDelete(metrics.RunID); started {
		p.runsActive.WithLabelValues(p.kind).Dec()
	}
	reason := string(metrics.Reason)
	p.runs.WithLabelValues(p.kind, reason).Inc()
	p.runIterations.WithLabelValues(p.kind, reason).Observe(float64(metrics.TotalIterations))
}

// MultiCollector fans metrics out to several collectors.
type MultiCollector []MetricsCollector

// RecordIterationStart implements MetricsCollector
func (m MultiCollector) RecordIterationStart(runID string, iteration int) {
	for _, c := range m {
		c.RecordIterationStart(runID, iteration)
	}
}

// RecordIterationEnd implements MetricsCollector
func (m MultiCollector) RecordIterationEnd(runID string, metrics *IterationMetrics) {
	for _, c := range m {
		c.RecordIterationEnd(runID, metrics)
	}
}

// RecordRunComplete implements MetricsCollector
func (m MultiCollector) RecordRunComplete(metrics *RunMetrics) {
	for _, c := range m {
		c.RecordRunComplete(metrics)
	}
}
