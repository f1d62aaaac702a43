// Package metric provides Prometheus-based metrics for the ntscope pipeline.
//
// A MetricsRegistry wraps a private prometheus.Registry with the Go runtime
// and process collectors, the core pipeline metrics (Metrics) and any
// component metrics registered through the MetricsRegistrar interface.
// Component metrics are tracked under "service.metric" keys so a second
// registration of the same key fails with an invalid-class error instead
// of panicking.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordSample("live")
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(context.Background())
//
// The gateway mounts the same exposition handler via Handler, so a separate
// Server is only needed when metrics must listen on their own address.
//
// # Component Metrics
//
// Components build their collectors with the "ntscope" namespace and their
// own subsystem, then register them under their instance name:
//
//	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: "ntscope",
//	    Subsystem: "nt4",
//	    Name:      "frames_received_total",
//	    Help:      "Frames received by channel",
//	}, []string{"channel"})
//	if err := registry.RegisterCounterVec("nt4.robot", "frames_received_total", frames); err != nil {
//	    return err
//	}
//
// UnregisterService drops every metric of an instance when it stops.
//
// # Core Metrics
//
//   - ntscope_service_status: lifecycle state per service
//   - ntscope_store_samples_ingested_total: samples written by origin
//   - ntscope_store_topics: topics present by origin
//   - ntscope_store_schemas_registered_total: struct schemas accepted
//   - ntscope_import_duration_seconds: recorded log decode time
//   - ntscope_errors_total: errors by service and class
//   - ntscope_health_status: 0 unhealthy, 1 degraded, 2 healthy
package metric
