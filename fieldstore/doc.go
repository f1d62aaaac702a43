// Package fieldstore keeps telemetry as a tree of time-indexed fields.
//
// A Source holds two views of the same data: a nested tree that splits
// paths on "/" and a flat tree keyed by full path. Either can be disabled;
// queries and change events come from the nested tree when it is enabled.
//
// # Fields
//
// Every field has a name, an optional FieldType and a value log sorted by
// timestamp. Samples that arrive out of order are merged in after any
// samples with an equal timestamp. A lookup at time t returns the sample
// in effect at t:
//
//	log:     10   20   30
//	get(5)   -> none
//	get(25)  -> sample at 20
//	get(99)  -> sample at 30
//
// Array fields mirror their elements into children named "0", "1", ...
// Struct fields keep the raw bytes as published and expose decoded values
// built with the struct schemas seen on ".schema/struct:<name>" topics.
// Schemas may arrive after the data they describe; when a schema resolves
// every field using it is decoded again and its member children appear.
//
// # Changes
//
// Source.Subscribe registers a listener on a path. Listeners hear events
// for the path itself and anything below it, on the goroutine that made
// the change, before the mutating call returns:
//
//	cancel := src.Subscribe("/drive", func(ev fieldstore.ChangeEvent) {
//		log.Printf("%s %s", ev.Kind, ev.Path)
//	})
//	defer cancel()
//
// # Snapshots
//
// ToSerialized and FromSerialized copy a Source to and from plain data.
// EncodeSnapshot and DecodeSnapshot carry it as CBOR; a ValueRegistry
// restores Go value types lost in the encoding.
package fieldstore
