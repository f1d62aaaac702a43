// Package health tracks component health for the ntscope pipeline.
//
// Three states are reported: healthy, degraded and unhealthy. The NT4
// client, for example, is healthy once connected and clock-synchronized,
// degraded while connected but not yet synchronized, and unhealthy while
// disconnected.
//
// Components implement Reporter and are registered with a Monitor, which
// polls them on Refresh and combines everything with Aggregate:
//
//	monitor := health.NewMonitor()
//	monitor.Watch("nt4", client)
//	monitor.Update("gateway", health.NewHealthy("gateway", "listening"))
//
//	system := monitor.AggregateHealth("ntscope")
//	if system.IsUnhealthy() {
//	    logger.Warn("Pipeline unhealthy", "message", system.Message)
//	}
//
// Aggregation is unhealthy if any sub-status is unhealthy, degraded if any
// is degraded, healthy otherwise. Status values are copied on every change
// so callers can hold them without locking.
//
// FromError converts an error into a status and strips robot addresses,
// file paths and credentials from the message before it is served.
package health
