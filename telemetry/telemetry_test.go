package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetMetrics() {
	metricsLock.Lock()
	defer metricsLock.Unlock()
	hotReloadCounter = nil
	parseCounter = nil
	cacheCounter = nil
	evaluationCounter = nil
	shortCircuitCount = nil
	nodeErrorCounter = nil
	invokeHistogram = nil
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("graph.yaml")
	collector.IncParse()
	collector.IncCacheLookup(true)
	collector.ObserveInvoke(time.Millisecond)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetMetrics()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")

	family := gather(t, reg, "vfunc_config_hot_reload_total")
	requireCounterValue(t, family, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("a.yaml")
	requireCounterValue(t, gather(t, reg, "vfunc_config_hot_reload_total"), 2)
}

func TestPrometheusCollectorReusesRegisteredVectors(t *testing.T) {
	resetMetrics()
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	resetMetrics()
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.parses, second.parses)
}

func TestPrometheusCollectorFormulaMetrics(t *testing.T) {
	resetMetrics()
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncParse()
	collector.IncParse()
	collector.IncCacheLookup(true)
	collector.IncCacheLookup(false)
	collector.IncCacheLookup(true)
	collector.IncEvaluation(false)
	collector.IncNodeShortCircuit("Guard")
	collector.IncNodeError("Run")
	collector.ObserveInvoke(2 * time.Millisecond)

	requireCounterValue(t, gather(t, reg, "vfunc_formula_parse_total"), 2)

	lookups := gather(t, reg, "vfunc_formula_cache_lookup_total")
	require.Len(t, lookups.Metric, 2)
	byResult := map[string]float64{}
	for _, m := range lookups.Metric {
		byResult[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"hit": 2, "miss": 1}, byResult)

	requireCounterValue(t, gather(t, reg, "vfunc_formula_evaluation_total"), 1)
	requireCounterValue(t, gather(t, reg, "vfunc_node_short_circuit_total"), 1)
	requireCounterValue(t, gather(t, reg, "vfunc_node_error_total"), 1)

	invokes := gather(t, reg, "vfunc_graph_invoke_seconds")
	require.Equal(t, uint64(1), invokes.Metric[0].GetHistogram().GetSampleCount())
}

func TestNilPrometheusCollectorIsSafe(t *testing.T) {
	var collector *PrometheusCollector
	collector.IncParse()
	collector.IncHotReload("x")
	collector.ObserveInvoke(time.Second)
}

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
