package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ntscope/metric"
)

type ringMetrics struct {
	writes      prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newRingMetrics(registry *metric.MetricsRegistry, name string) (*ringMetrics, error) {
	labels := prometheus.Labels{"ring": name}
	m := &ringMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ntscope",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Items written to the ring",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ntscope",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items discarded on overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntscope",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Items currently queued",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntscope",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Queued items as a fraction of capacity",
		}),
	}

	service := "buffer." + name
	if err := registry.RegisterCounter(service, "writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ringMetrics) write(size, capacity int) {
	if m == nil {
		return
	}
	m.writes.Inc()
	m.setSize(size, capacity)
}

func (m *ringMetrics) drop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *ringMetrics) setSize(size, capacity int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
