// Package errors provides standardized error handling patterns for ntscope components.
//
// # Overview
//
// Errors are sorted into three classes: Transient (temporary, recovered automatically),
// Invalid (bad input, dropped or rejected) and Fatal (unrecoverable, stop processing).
// The classes map onto the telemetry pipeline's failure taxonomy:
//
//   - Transport faults (socket errors, closures) are Transient. The NT4 client never
//     surfaces them to callers; it reconnects and reports connect/disconnect transitions.
//   - Protocol malformation (unparseable frames, unknown topic ids) is Invalid. The frame
//     is dropped with a diagnostic and processing continues.
//   - Schema faults (bad type names, oversized bitfields, bad array lengths) are Invalid
//     and raised during schema parse; the schema stays unresolved.
//   - Query faults are not errors at all. Lookups of absent paths or timestamps before the
//     first sample return nil/false.
//   - Stale-generation results (ErrStaleGeneration) are discarded silently.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	component.method: action failed: underlying error
//
// For example:
//
//	if err := decoder.AddSchema(name, text); err != nil {
//	    return errors.WrapInvalid(err, "Source", "Update", "parse struct schema")
//	}
//
// Wrapped errors keep the chain intact, so errors.Is and errors.As work on the
// sentinel variables declared in this package.
package errors
