package nt4

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
)

func TestTypeIndex(t *testing.T) {
	tests := map[string]int{
		"boolean":         TypeBoolean,
		"double":          TypeDouble,
		"int":             TypeInt,
		"float":           TypeFloat,
		"string":          TypeString,
		"json":            TypeString,
		"raw":             TypeRaw,
		"struct:Pose2d":   TypeRaw,
		"proto:Pose2d":    TypeRaw,
		"boolean[]":       TypeBooleanArray,
		"double[]":        TypeDoubleArray,
		"int[]":           TypeIntArray,
		"float[]":         TypeFloatArray,
		"string[]":        TypeStringArray,
		"struct:Pose2d[]": TypeRaw,
	}
	for typ, want := range tests {
		assert.Equal(t, want, TypeIndex(typ), typ)
	}
}

func TestEncodeText(t *testing.T) {
	data, err := encodeText(methodPublish, publishParams{Name: "/x", PubUID: 3, Type: "double", Properties: Properties{}})
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "publish", got[0]["method"])
	assert.Equal(t, map[string]any{
		"name":       "/x",
		"pubuid":     float64(3),
		"type":       "double",
		"properties": map[string]any{},
	}, got[0]["params"])
}

func TestDecodeText(t *testing.T) {
	msgs, err := decodeText([]byte(`[
		{"method":"announce","params":{"name":"/a","id":1,"type":"int","properties":{}}},
		{"method":"unannounce","params":{"name":"/b","id":2}}
	]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, methodAnnounce, msgs[0].Method)
	assert.Equal(t, methodUnannounce, msgs[1].Method)

	p, err := decodeAnnounce(msgs[0].Params)
	require.NoError(t, err)
	assert.Equal(t, "/a", p.Name)
	assert.Equal(t, int64(1), p.ID)
	assert.Nil(t, p.PubUID)

	_, err = decodeText([]byte(`{"method":"announce"}`))
	assert.ErrorIs(t, err, errors.ErrMalformedFrame)
}

func TestDecodeAnnounce_RequiredFields(t *testing.T) {
	p, err := decodeAnnounce(json.RawMessage(`{"name":"/real","id":0,"type":"double"}`))
	require.NoError(t, err)
	assert.Equal(t, "/real", p.Name)
	assert.Equal(t, int64(0), p.ID)

	for _, raw := range []string{
		`{"type":"double"}`,
		`{"name":"/x","type":"double"}`,
		`{"id":3,"type":"double"}`,
		`{"name":"/x","id":3}`,
		`{"name":7,"id":3,"type":"double"}`,
	} {
		_, err := decodeAnnounce(json.RawMessage(raw))
		assert.ErrorIs(t, err, errors.ErrMalformedFrame, raw)
	}

	u, err := decodeUnannounce(json.RawMessage(`{"name":"/real","id":0}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.ID)
	_, err = decodeUnannounce(json.RawMessage(`{"name":"/real"}`))
	assert.ErrorIs(t, err, errors.ErrMalformedFrame)
}

func TestDecodeSamples_Concatenated(t *testing.T) {
	var frame []byte
	for _, s := range []sample{
		{ID: 7, Timestamp: 123, TypeIndex: TypeDouble, Value: 2.5},
		{ID: 8, Timestamp: 124, TypeIndex: TypeBoolean, Value: true},
		{ID: 9, Timestamp: 1 << 40, TypeIndex: TypeStringArray, Value: []string{"a", "b"}},
	} {
		data, err := encodeSample(s)
		require.NoError(t, err)
		frame = append(frame, data...)
	}

	got, errs := decodeSamples(frame)
	require.Empty(t, errs)
	assert.Equal(t, []sample{
		{ID: 7, Timestamp: 123, TypeIndex: TypeDouble, Value: 2.5},
		{ID: 8, Timestamp: 124, TypeIndex: TypeBoolean, Value: true},
		{ID: 9, Timestamp: 1 << 40, TypeIndex: TypeStringArray, Value: []string{"a", "b"}},
	}, got)
}

func TestDecodeSamples_Truncated(t *testing.T) {
	first, err := encodeSample(sample{ID: 1, Timestamp: 10, TypeIndex: TypeInt, Value: int64(5)})
	require.NoError(t, err)
	second, err := encodeSample(sample{ID: 2, Timestamp: 11, TypeIndex: TypeString, Value: "hello"})
	require.NoError(t, err)

	frame := append(first, second[:len(second)-2]...)
	got, errs := decodeSamples(frame)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errors.ErrMalformedFrame)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Value)
}

func TestDecodeSamples_MismatchedValueSkipsOnlyThatSample(t *testing.T) {
	var frame []byte
	for _, s := range []sample{
		{ID: 7, Timestamp: 10, TypeIndex: TypeDouble, Value: "oops"},
		{ID: 7, Timestamp: 11, TypeIndex: TypeDouble, Value: 2.0},
		{ID: 8, Timestamp: 12, TypeIndex: TypeBoolean, Value: int64(3)},
		{ID: 8, Timestamp: 13, TypeIndex: TypeBoolean, Value: false},
	} {
		data, err := encodeSample(s)
		require.NoError(t, err)
		frame = append(frame, data...)
	}

	got, errs := decodeSamples(frame)
	assert.Len(t, errs, 2)
	assert.Equal(t, []sample{
		{ID: 7, Timestamp: 11, TypeIndex: TypeDouble, Value: 2.0},
		{ID: 8, Timestamp: 13, TypeIndex: TypeBoolean, Value: false},
	}, got)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		index int
		in    any
		want  any
	}{
		{"bool", TypeBoolean, true, true},
		{"double from float", TypeDouble, 1.25, 1.25},
		{"double from int", TypeDouble, int8(3), 3.0},
		{"int from small", TypeInt, int8(-4), int64(-4)},
		{"int from uint", TypeInt, uint16(500), int64(500)},
		{"float", TypeFloat, float32(0.5), float32(0.5)},
		{"string", TypeString, "x", "x"},
		{"raw", TypeRaw, []byte{1, 2}, []byte{1, 2}},
		{"bool array", TypeBooleanArray, []any{true, false}, []bool{true, false}},
		{"double array", TypeDoubleArray, []any{1.0, int8(2)}, []float64{1, 2}},
		{"int array", TypeIntArray, []any{int8(1), int64(2)}, []int64{1, 2}},
		{"float array", TypeFloatArray, []any{float32(1.5)}, []float32{1.5}},
		{"string array", TypeStringArray, []any{"a"}, []string{"a"}},
		{"empty array", TypeIntArray, nil, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize(tt.index, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	_, err := normalize(TypeBoolean, "true")
	assert.ErrorIs(t, err, errors.ErrMalformedFrame)

	_, err = normalize(TypeIntArray, []any{"x"})
	assert.ErrorIs(t, err, errors.ErrMalformedFrame)

	_, err = normalize(42, 1)
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}
