package nt4

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ntscope/metric"
)

// clientMetrics holds Prometheus metrics for one Client
type clientMetrics struct {
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	reconnects     prometheus.Counter
	connected      prometheus.Gauge
	clockOffset    prometheus.Gauge
	rtt            prometheus.Gauge
	queueDepth     prometheus.Gauge
}

// newMetrics creates and registers client metrics. A nil registry disables
// metrics entirely.
func newMetrics(registry *metric.MetricsRegistry, serviceName, clientName string, logger *slog.Logger) *clientMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"client": clientName}
	m := &clientMetrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "frames_received_total",
			Help:        "Websocket frames received by channel",
			ConstLabels: labels,
		}, []string{"channel"}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "frames_dropped_total",
			Help:        "Messages dropped by reason",
			ConstLabels: labels,
		}, []string{"reason"}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "reconnects_total",
			Help:        "Connection attempts after the first",
			ConstLabels: labels,
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "connected",
			Help:        "1 while a server connection is open",
			ConstLabels: labels,
		}),

		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "clock_offset_microseconds",
			Help:        "Estimated server minus client clock offset",
			ConstLabels: labels,
		}),

		rtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "rtt_microseconds",
			Help:        "Last measured time sync round trip",
			ConstLabels: labels,
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ntscope",
			Subsystem:   "nt4",
			Name:        "queue_depth",
			Help:        "Frames waiting for the processor",
			ConstLabels: labels,
		}),
	}

	errs := []error{
		registry.RegisterCounterVec(serviceName, "frames_received_total", m.framesReceived),
		registry.RegisterCounterVec(serviceName, "frames_dropped_total", m.framesDropped),
		registry.RegisterCounter(serviceName, "reconnects_total", m.reconnects),
		registry.RegisterGauge(serviceName, "connected", m.connected),
		registry.RegisterGauge(serviceName, "clock_offset_microseconds", m.clockOffset),
		registry.RegisterGauge(serviceName, "rtt_microseconds", m.rtt),
		registry.RegisterGauge(serviceName, "queue_depth", m.queueDepth),
	}
	for _, err := range errs {
		if err != nil {
			logger.Warn("nt4 metric registration failed", "client", clientName, "error", err)
		}
	}
	return m
}

func (m *clientMetrics) received(channel string) {
	if m != nil {
		m.framesReceived.WithLabelValues(channel).Inc()
	}
}

func (m *clientMetrics) dropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *clientMetrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *clientMetrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *clientMetrics) clock(offset, rtt int64) {
	if m != nil {
		m.clockOffset.Set(float64(offset))
		m.rtt.Set(float64(rtt))
	}
}

func (m *clientMetrics) queue(depth int) {
	if m != nil {
		m.queueDepth.Set(float64(depth))
	}
}
