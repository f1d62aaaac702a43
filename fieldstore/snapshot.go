package fieldstore

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/ntscope/errors"
)

// SnapshotVersion is the current snapshot layout.
const SnapshotVersion = 1

// Snapshot is a plain-data copy of a Source. Only fields written directly
// are recorded; array elements and struct members are derived again from
// their parents and the recorded schemas when the snapshot is restored.
type Snapshot struct {
	Version   int               `cbor:"version" json:"version"`
	TS        int64             `cbor:"ts" json:"ts"`
	TSMin     int64             `cbor:"ts_min" json:"ts_min"`
	TSMax     int64             `cbor:"ts_max" json:"ts_max"`
	HasBounds bool              `cbor:"has_bounds" json:"has_bounds"`
	Nested    *TreeSnapshot     `cbor:"nested,omitempty" json:"nested,omitempty"`
	Flat      *TreeSnapshot     `cbor:"flat,omitempty" json:"flat,omitempty"`
	Schemas   map[string]string `cbor:"schemas,omitempty" json:"schemas,omitempty"`
}

// TreeSnapshot lists the recorded fields of one tree in key order.
type TreeSnapshot struct {
	Fields []FieldSnapshot `cbor:"fields" json:"fields"`
}

// FieldSnapshot is one field: its path segments from the root, its type
// string, and its raw value log.
type FieldSnapshot struct {
	Segments []string `cbor:"segments" json:"segments"`
	Type     string   `cbor:"type,omitempty" json:"type,omitempty"`
	Entries  []Entry  `cbor:"entries,omitempty" json:"entries,omitempty"`
}

// ToSerialized copies the source into a Snapshot.
func (s *Source) ToSerialized() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Version:   SnapshotVersion,
		TS:        s.ts,
		TSMin:     s.tsMin,
		TSMax:     s.tsMax,
		HasBounds: s.hasBounds,
		Schemas:   s.decoder.Schemas(),
	}
	if s.nested != nil {
		snap.Nested = serializeTree(s.nested)
	}
	if s.flat != nil {
		snap.Flat = serializeTree(s.flat)
	}
	return snap
}

func serializeTree(t *Tree) *TreeSnapshot {
	out := &TreeSnapshot{}
	t.walk(func(segs []string, f *Field) {
		if f.derived {
			return
		}
		// Untyped containers with children come back from their descendants.
		if f.typ == nil && len(f.log) == 0 && len(f.children) > 0 {
			return
		}
		out.Fields = append(out.Fields, FieldSnapshot{
			Segments: segs,
			Type:     TypeString(f.typ),
			Entries:  slices.Clone(f.log),
		})
	})
	return out
}

// FromSerialized rebuilds a Source from a snapshot. Values pass through reg
// (DefaultValueRegistry when nil) to restore their Go types, schemas are
// registered first, and every struct field is decoded again. The result
// is a live source: later updates and subscriptions behave as on any other.
func FromSerialized(snap *Snapshot, reg *ValueRegistry, opts ...Option) (*Source, error) {
	if snap == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidLog, "Source", "FromSerialized", "read nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: snapshot version %d", errors.ErrInvalidLog, snap.Version),
			"Source", "FromSerialized", "check snapshot version")
	}
	if reg == nil {
		reg = DefaultValueRegistry()
	}

	opts = append([]Option{WithTrees(snap.Nested != nil, snap.Flat != nil)}, opts...)
	s := NewSource(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(snap.Schemas))
	for name := range snap.Schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := s.decoder.AddSchema(name, snap.Schemas[name]); err != nil {
			return nil, errors.Wrap(err, "Source", "FromSerialized", "restore schema")
		}
	}

	if err := restoreTree(s.nested, snap.Nested, reg); err != nil {
		return nil, err
	}
	if err := restoreTree(s.flat, snap.Flat, reg); err != nil {
		return nil, err
	}

	s.ts = snap.TS
	s.tsMin, s.tsMax, s.hasBounds = snap.TSMin, snap.TSMax, snap.HasBounds
	s.drain()
	return s, nil
}

func restoreTree(t *Tree, snap *TreeSnapshot, reg *ValueRegistry) error {
	if t == nil || snap == nil {
		return nil
	}
	for _, fs := range snap.Fields {
		f := t.create(fs.Segments, ParseType(fs.Type))
		if f == nil {
			continue
		}
		for _, e := range fs.Entries {
			v, err := reg.Revive(f.typ, e.Value)
			if err != nil {
				return errors.WrapInvalid(err, "Source", "FromSerialized",
					fmt.Sprintf("revive %s at %d", displayPath(f.key), e.TS))
			}
			t.write(f, v, e.TS)
		}
	}
	return nil
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error

	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fieldstore: CBOR encoder initialization failed: " + err.Error())
	}

	snapshotDecMode, err = cbor.DecOptions{
		// Decoded struct values and untyped samples are map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("fieldstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot serializes snap as CBOR.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := snapshotEncMode.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "Snapshot", "Encode", "marshal CBOR")
	}
	return data, nil
}

// DecodeSnapshot parses CBOR produced by EncodeSnapshot. Values still need
// reviving through FromSerialized.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := snapshotDecMode.Unmarshal(data, &snap); err != nil {
		return nil, errors.WrapInvalid(err, "Snapshot", "Decode", "unmarshal CBOR")
	}
	return &snap, nil
}
