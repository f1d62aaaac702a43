package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline-level telemetry metrics shared by every
// component. Protocol-specific metrics live with their component.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	SamplesIngested   *prometheus.CounterVec
	FieldsTracked     *prometheus.GaugeVec
	SchemasResolved   prometheus.Counter
	ImportDuration    prometheus.Histogram
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates the core metrics in the "ntscope" namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ntscope",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		SamplesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ntscope",
				Subsystem: "store",
				Name:      "samples_ingested_total",
				Help:      "Samples written to the field store by origin (live, log)",
			},
			[]string{"origin"},
		),

		FieldsTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ntscope",
				Subsystem: "store",
				Name:      "topics",
				Help:      "Topics currently present in the field store by origin",
			},
			[]string{"origin"},
		),

		SchemasResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ntscope",
				Subsystem: "store",
				Name:      "schemas_registered_total",
				Help:      "Struct schemas registered with the decoder",
			},
		),

		ImportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ntscope",
				Subsystem: "import",
				Name:      "duration_seconds",
				Help:      "Recorded log decode duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ntscope",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"service", "class"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ntscope",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=degraded, 2=healthy)",
			},
			[]string{"service"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.SamplesIngested,
		c.FieldsTracked,
		c.SchemasResolved,
		c.ImportDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordSample counts one sample written to the store
func (c *Metrics) RecordSample(origin string) {
	c.SamplesIngested.WithLabelValues(origin).Inc()
}

// RecordTopics sets the number of topics present for an origin
func (c *Metrics) RecordTopics(origin string, n int) {
	c.FieldsTracked.WithLabelValues(origin).Set(float64(n))
}

// RecordSchema counts a registered struct schema
func (c *Metrics) RecordSchema() {
	c.SchemasResolved.Inc()
}

// RecordImportDuration records how long a log decode took
func (c *Metrics) RecordImportDuration(d time.Duration) {
	c.ImportDuration.Observe(d.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordHealthStatus updates health check status (0 unhealthy, 1 degraded, 2 healthy)
func (c *Metrics) RecordHealthStatus(service string, level int) {
	c.HealthCheckStatus.WithLabelValues(service).Set(float64(level))
}
