package metric

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
	assert.True(t, gatheredNames(t, registry)["go_goroutines"], "runtime collector registered")
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"k"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"k"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"k"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(1.5)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)
	histogramVec.WithLabelValues("a").Observe(0.1)

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"test_counter", "test_gauge", "test_histogram",
		"test_counter_vec", "test_gauge_vec", "test_histogram_vec",
	} {
		assert.True(t, names[name], "%s should be registered", name)
	}
	assert.Equal(t, 42.0, testutil.ToFloat64(gauge))
}

func TestMetricsRegistry_DuplicateKey(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_a", Help: "a"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_b", Help: "b"})

	require.NoError(t, registry.RegisterCounter("nt4", "frames", first))
	err := registry.RegisterCounter("nt4", "frames", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "already registered")
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "same_name", Help: "same"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "same_name", Help: "same"})

	require.NoError(t, registry.RegisterCounter("client-a", "frames", first))
	err := registry.RegisterCounter("client-b", "frames", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "x"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["gone_counter"])

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.False(t, gatheredNames(t, registry)["gone_counter"])

	// The key is free again.
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))
}

func TestMetricsRegistry_UnregisterService(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterGauge("nt4.robot", "a",
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "svc_a", Help: "a"})))
	require.NoError(t, registry.RegisterGauge("nt4.robot", "b",
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "svc_b", Help: "b"})))
	require.NoError(t, registry.RegisterGauge("other", "c",
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "svc_c", Help: "c"})))

	assert.Equal(t, 2, registry.UnregisterService("nt4.robot"))
	assert.Equal(t, 0, registry.UnregisterService("nt4.robot"))
	assert.True(t, registry.Unregister("other", "c"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const workers = 10
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", id),
				Help: "A concurrent counter",
			})
			assert.NoError(t, registry.RegisterCounter("concurrent", fmt.Sprintf("c%d", id), counter))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, workers, count)
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordServiceStatus("nt4", 2)
	core.RecordSample("live")
	core.RecordSample("live")
	core.RecordTopics("live", 12)
	core.RecordSchema()
	core.RecordImportDuration(250 * time.Millisecond)
	core.RecordError("nt4", "transient")
	core.RecordHealthStatus("nt4", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(core.SamplesIngested.WithLabelValues("live")))
	assert.Equal(t, 12.0, testutil.ToFloat64(core.FieldsTracked.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SchemasResolved))

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"ntscope_service_status",
		"ntscope_store_samples_ingested_total",
		"ntscope_store_topics",
		"ntscope_store_schemas_registered_total",
		"ntscope_import_duration_seconds",
		"ntscope_errors_total",
		"ntscope_health_status",
	} {
		assert.True(t, names[name], "core metric %s should be exposed", name)
	}
}

func TestHandler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordSample("log")

	srv := httptest.NewServer(registry.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ntscope_store_samples_ingested_total{origin="log"} 1`)
}
