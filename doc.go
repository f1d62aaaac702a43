// Package ntscope ingests FRC robot telemetry and serves it as a
// time-indexed field tree.
//
// # Sources
//
// Telemetry arrives from two places:
//   - Live: an NT4 (NetworkTables 4) server on the robot or simulator,
//     followed by the nt4 client over a websocket.
//   - Recorded: WPILOG files, decoded off the caller's goroutine by the
//     wpilog importer.
//
// Either way the values land in a fieldstore.Source: a nested tree keyed by
// "/"-separated path segments and an optional flat tree keyed by full topic
// name. Every field keeps a timestamp-sorted value log, so queries ask for
// the value in effect at a timestamp or for all samples in a range.
//
// # Struct schemas
//
// WPILib struct-serialized topics carry raw bytes whose layout is described
// by schema topics ("/.schema/struct:<name>"). Schemas may arrive after the
// data they describe; pkg/structschema resolves them as they come and the
// store rebuilds the decoded children of every affected field.
//
// # Layout
//
//	pkg/structschema  struct schema parser and decoder
//	fieldstore        field trees, change events, snapshots
//	nt4               NT4 protocol client
//	wpilog            WPILOG decoder and background importer
//	session           owner of the current source, live/log switching
//	gateway           HTTP and websocket query surface
//	config            JSON/YAML/TOML configuration
//	errors, metric,   classified errors, Prometheus metrics and
//	health            component health shared by the packages above
//	pkg/buffer        bounded ring used by the change stream
//	pkg/worker        worker pool used by the importer
//	cmd/ntscope       command-line entry point
//
// # Quick start
//
//	ntscope --connect --host 10.12.34.2
//	curl 'localhost:8080/api/v1/value?path=/SmartDashboard/Speed'
package ntscope
