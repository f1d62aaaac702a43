// Package structschema parses WPILib struct schema text and decodes raw
// struct payloads into named values.
//
// A schema is a semicolon-separated list of declarations:
//
//	double x; double y; Rotation2d rotation
//	enum {off=0, on=1} int8 mode; bool valid:1; uint8 flags:3; char name[8]
//
// Each declaration is a primitive type (bool, char, int8..int64,
// uint8..uint64, float/float32, double/float64) or the name of another
// pattern, followed by a field name with an optional [N] array length or
// :N bitfield width. Bitfields pack LSB-first into storage units the width
// of their declared type; a bool bitfield may share any open unit.
//
// Schemas and the data that depends on them can arrive in either order.
// A pattern that references an unknown pattern stays unresolved and
// Decode reports it as not yet decodable:
//
//	d := structschema.NewDecoder()
//	d.AddSchema("Pose2d", "Translation2d translation; Rotation2d rotation")
//	_, ok := d.Decode("Pose2d", raw) // ok == false
//	d.AddSchema("Translation2d", "double x; double y")
//	resolved, _ := d.AddSchema("Rotation2d", "double value")
//	// resolved == []string{"Pose2d", "Rotation2d"}
//
// All multi-byte values are little-endian. Decoded values are bool, int64,
// uint64 (uint64 fields only), float32, float64, string (char and enum
// fields), []any for arrays and map[string]any for nested structs.
package structschema
