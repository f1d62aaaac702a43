package fieldstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
)

func populatedSource(t *testing.T) *Source {
	t.Helper()
	s := NewSource()

	s.Create("/drive/enabled", Primitive{Kind: KindBoolean})
	s.Create("/drive/count", Primitive{Kind: KindInt})
	s.Create("/drive/speed", Primitive{Kind: KindDouble})
	s.Create("/drive/gains", Array{Elem: Primitive{Kind: KindFloat}})
	s.Create("/drive/names", Array{Elem: Primitive{Kind: KindString}})
	s.Create("/drive/pose", Struct{Name: "Point"})

	require.NoError(t, s.Update("/drive/enabled", true, 10))
	require.NoError(t, s.Update("/drive/count", int64(-3), 10))
	require.NoError(t, s.Update("/drive/count", int64(42), 20))
	require.NoError(t, s.Update("/drive/speed", 1.25, 15))
	require.NoError(t, s.Update("/drive/gains", []float32{0.5, 2}, 12))
	require.NoError(t, s.Update("/drive/names", []string{"fl", "fr"}, 12))
	require.NoError(t, s.Update("/drive/pose", float64s(7, 8), 30))
	publishSchema(t, s, "Point", "double x; double y", 5)

	s.SetTS(17)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	original := populatedSource(t)
	snap := original.ToSerialized()

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	restored, err := FromSerialized(decoded, DefaultValueRegistry())
	require.NoError(t, err)

	if diff := cmp.Diff(snap, restored.ToSerialized()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, int64(17), restored.TS())

	v, ok := restored.Get("/drive/pose/y", 30)
	require.True(t, ok, "struct members are derived again")
	assert.Equal(t, 8.0, v)

	g, ok := restored.Get("/drive/gains/1", 12)
	require.True(t, ok)
	assert.Equal(t, float32(2), g)

	c, ok := restored.Get("/drive/count", 10)
	require.True(t, ok)
	assert.Equal(t, int64(-3), c)
}

func TestSnapshotRestoredSourceIsLive(t *testing.T) {
	restored, err := FromSerialized(populatedSource(t).ToSerialized(), nil)
	require.NoError(t, err)

	var events []ChangeEvent
	restored.Subscribe("/drive", func(ev ChangeEvent) { events = append(events, ev) })
	require.NoError(t, restored.Update("/drive/speed", 3.0, 40))

	assert.Equal(t, []ChangeEvent{{Path: "drive/speed", Kind: Updated, TS: 40}}, events)
	_, tsMax, _ := restored.Bounds()
	assert.Equal(t, int64(40), tsMax)
}

func TestSnapshotSkipsDerivedFields(t *testing.T) {
	snap := populatedSource(t).ToSerialized()
	for _, f := range snap.Nested.Fields {
		assert.NotEqual(t, []string{"drive", "gains", "0"}, f.Segments)
		assert.NotEqual(t, []string{"drive", "pose", "x"}, f.Segments)
	}
	require.NotNil(t, snap.Flat)
	assert.Equal(t, map[string]string{"Point": "double x; double y"}, snap.Schemas)
}

func TestFromSerializedErrors(t *testing.T) {
	_, err := FromSerialized(nil, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = FromSerialized(&Snapshot{Version: 99}, nil)
	assert.True(t, errors.IsInvalid(err))

	bad := &Snapshot{
		Version: SnapshotVersion,
		Nested: &TreeSnapshot{Fields: []FieldSnapshot{{
			Segments: []string{"v"},
			Type:     "int",
			Entries:  []Entry{{TS: 1, Value: "not a number"}},
		}}},
	}
	_, err = FromSerialized(bad, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	_, err = DecodeSnapshot([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestValueRegistry(t *testing.T) {
	reg := DefaultValueRegistry()

	tests := []struct {
		name    string
		typ     FieldType
		in      any
		want    any
		wantErr bool
	}{
		{"int from uint64", Primitive{Kind: KindInt}, uint64(5), int64(5), false},
		{"int from integral float", Primitive{Kind: KindInt}, 4.0, int64(4), false},
		{"int from fraction", Primitive{Kind: KindInt}, 4.5, nil, true},
		{"float narrows", Primitive{Kind: KindFloat}, 0.25, float32(0.25), false},
		{"double widens", Primitive{Kind: KindDouble}, float32(0.5), 0.5, false},
		{"json stays string", Primitive{Kind: KindJSON}, `{"a":1}`, `{"a":1}`, false},
		{"raw from string", Primitive{Kind: KindRaw}, "ab", []byte("ab"), false},
		{"struct bytes", Struct{Name: "P"}, []byte{1}, []byte{1}, false},
		{"float array", Array{Elem: Primitive{Kind: KindFloat}}, []any{1.5, 2.0}, []float32{1.5, 2}, false},
		{"int array", Array{Elem: Primitive{Kind: KindInt}}, []any{uint64(1), int64(-1)}, []int64{1, -1}, false},
		{"bool array mismatch", Array{Elem: Primitive{Kind: KindBoolean}}, []any{"x"}, nil, true},
		{"untyped passthrough", nil, uint64(9), uint64(9), false},
		{"nil value", Primitive{Kind: KindInt}, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Revive(tt.typ, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueRegistryOverride(t *testing.T) {
	reg := DefaultValueRegistry()
	reg.Register(KindString, func(v any) (any, error) { return "fixed", nil })

	got, err := reg.Revive(Primitive{Kind: KindString}, "anything")
	require.NoError(t, err)
	assert.Equal(t, "fixed", got)
}
