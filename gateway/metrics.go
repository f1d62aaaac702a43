package gateway

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ntscope/metric"
)

type gatewayMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	streamClients prometheus.Gauge
	streamDropped prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *gatewayMetrics {
	if registry == nil {
		return nil
	}

	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ntscope",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ntscope",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"route"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ntscope",
			Subsystem: "gateway",
			Name:      "stream_clients",
			Help:      "Connected change-stream clients",
		}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ntscope",
			Subsystem: "gateway",
			Name:      "stream_dropped_total",
			Help:      "Change events dropped for slow stream clients",
		}),
	}

	errs := []error{
		registry.RegisterCounterVec("gateway", "requests", m.requests),
		registry.RegisterHistogramVec("gateway", "request_duration", m.duration),
		registry.RegisterGauge("gateway", "stream_clients", m.streamClients),
		registry.RegisterCounter("gateway", "stream_dropped", m.streamDropped),
	}
	for _, err := range errs {
		if err != nil {
			logger.Warn("gateway metrics registration failed", "error", err)
		}
	}
	return m
}

func (m *gatewayMetrics) request(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
	m.duration.WithLabelValues(route).Observe(seconds)
}

func (m *gatewayMetrics) clients(delta float64) {
	if m == nil {
		return
	}
	m.streamClients.Add(delta)
}

func (m *gatewayMetrics) dropped() {
	if m == nil {
		return
	}
	m.streamDropped.Inc()
}
