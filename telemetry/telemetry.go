package telemetry

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the engine and the graph.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with formula evaluation.
type Collector interface {
	IncHotReload(file string)
	IncParse()
	IncCacheLookup(hit bool)
	IncEvaluation(ok bool)
	IncNodeShortCircuit(kind string)
	IncNodeError(kind string)
	ObserveInvoke(d time.Duration)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)         {}
func (noopCollector) IncParse()                   {}
func (noopCollector) IncCacheLookup(bool)         {}
func (noopCollector) IncEvaluation(bool)          {}
func (noopCollector) IncNodeShortCircuit(string)  {}
func (noopCollector) IncNodeError(string)         {}
func (noopCollector) ObserveInvoke(time.Duration) {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads    *prometheus.CounterVec
	parses        *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	evaluations   *prometheus.CounterVec
	shortCircuits *prometheus.CounterVec
	nodeErrors    *prometheus.CounterVec
	invokes       *prometheus.HistogramVec
}

var (
	metricsLock       sync.Mutex
	hotReloadCounter  *prometheus.CounterVec
	parseCounter      *prometheus.CounterVec
	cacheCounter      *prometheus.CounterVec
	evaluationCounter *prometheus.CounterVec
	shortCircuitCount *prometheus.CounterVec
	nodeErrorCounter  *prometheus.CounterVec
	invokeHistogram   *prometheus.HistogramVec
)

// register adds c to reg, reusing a collector that is already registered
// under the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, slot *C, c C) error {
	var zero C
	if any(*slot) != any(zero) {
		return nil
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return err
		}
		*slot = existing
		return nil
	}
	*slot = c
	return nil
}

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsLock.Lock()
	defer metricsLock.Unlock()

	counters := []struct {
		slot   **prometheus.CounterVec
		opts   prometheus.CounterOpts
		labels []string
	}{
		{&hotReloadCounter, prometheus.CounterOpts{
			Name: "vfunc_config_hot_reload_total",
			Help: "Number of hot reload operations triggered per graph source file.",
		}, []string{"file"}},
		{&parseCounter, prometheus.CounterOpts{
			Name: "vfunc_formula_parse_total",
			Help: "Number of formula texts parsed into accessor chains.",
		}, nil},
		{&cacheCounter, prometheus.CounterOpts{
			Name: "vfunc_formula_cache_lookup_total",
			Help: "Parse cache lookups partitioned by result.",
		}, []string{"result"}},
		{&evaluationCounter, prometheus.CounterOpts{
			Name: "vfunc_formula_evaluation_total",
			Help: "Formula evaluations partitioned by outcome.",
		}, []string{"ok"}},
		{&shortCircuitCount, prometheus.CounterOpts{
			Name: "vfunc_node_short_circuit_total",
			Help: "Function nodes that stopped their list by returning false.",
		}, []string{"kind"}},
		{&nodeErrorCounter, prometheus.CounterOpts{
			Name: "vfunc_node_error_total",
			Help: "Function nodes that failed with an error.",
		}, []string{"kind"}},
	}
	for _, c := range counters {
		if err := register(reg, c.slot, prometheus.NewCounterVec(c.opts, c.labels)); err != nil {
			return nil, err
		}
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vfunc_graph_invoke_seconds",
		Help:    "Duration of complete graph invocations.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, nil)
	if err := register(reg, &invokeHistogram, histogram); err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		hotReloads:    hotReloadCounter,
		parses:        parseCounter,
		cacheLookups:  cacheCounter,
		evaluations:   evaluationCounter,
		shortCircuits: shortCircuitCount,
		nodeErrors:    nodeErrorCounter,
		invokes:       invokeHistogram,
	}, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncParse counts one cache miss that ran the parser.
func (p *PrometheusCollector) IncParse() {
	if p == nil || p.parses == nil {
		return
	}
	p.parses.WithLabelValues().Inc()
}

// IncCacheLookup records a parse cache hit or miss.
func (p *PrometheusCollector) IncCacheLookup(hit bool) {
	if p == nil || p.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

// IncEvaluation records the outcome of one formula evaluation.
func (p *PrometheusCollector) IncEvaluation(ok bool) {
	if p == nil || p.evaluations == nil {
		return
	}
	p.evaluations.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (p *PrometheusCollector) IncNodeShortCircuit(kind string) {
	if p == nil || p.shortCircuits == nil {
		return
	}
	p.shortCircuits.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) IncNodeError(kind string) {
	if p == nil || p.nodeErrors == nil {
		return
	}
	p.nodeErrors.WithLabelValues(kind).Inc()
}

// ObserveInvoke records the duration of one graph invocation.
func (p *PrometheusCollector) ObserveInvoke(d time.Duration) {
	if p == nil || p.invokes == nil {
		return
	}
	p.invokes.WithLabelValues().Observe(d.Seconds())
}

