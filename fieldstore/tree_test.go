package fieldstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	log := []Entry{{TS: 10}, {TS: 20}, {TS: 20}, {TS: 30}}

	tests := []struct {
		ts   int64
		want int
	}{
		{5, -1},
		{10, 0},
		{15, 0},
		{20, 2},
		{25, 2},
		{30, 3},
		{99, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, search(log, tt.ts), "search(%d)", tt.ts)
	}

	assert.Equal(t, -1, search(nil, 10))
}

func TestInsertOutOfOrder(t *testing.T) {
	f := newField("x", "x", rootKey, Primitive{Kind: KindString}, false)
	f.insert(Entry{TS: 20, Value: "a"})
	f.insert(Entry{TS: 10, Value: "b"})
	f.insert(Entry{TS: 20, Value: "c"})
	f.insert(Entry{TS: 5, Value: "d"})

	var got []any
	for _, e := range f.log {
		got = append(got, e.Value)
	}
	assert.Equal(t, []any{"d", "b", "a", "c"}, got)
}

func TestGetRangeConcatenates(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/v", Primitive{Kind: KindInt})
	for _, ts := range []int64{10, 20, 30, 40, 50} {
		tree.Update("/v", ts*2, ts)
	}

	whole := tree.GetRange("/v", 15, 45)
	left := tree.GetRange("/v", 15, 30)
	right := tree.GetRange("/v", 30, 45)
	assert.Equal(t, whole, append(left, right...))

	require.Len(t, whole, 3)
	assert.Equal(t, int64(20), whole[0].TS)
	assert.Equal(t, int64(40), whole[2].TS)

	assert.Empty(t, tree.GetRange("/v", 45, 15))
	assert.Len(t, tree.GetRange("/v", -100, 100), 5)
	assert.Nil(t, tree.GetRange("/missing", 0, 100))
}

func TestGetSemantics(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/a/b", Primitive{Kind: KindDouble})
	tree.Update("/a/b", 1.5, 100)

	_, ok := tree.Get("/a/b", 99)
	assert.False(t, ok, "before first sample")

	v, ok := tree.Get("/a/b", 100)
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = tree.Get("a/b", 1000)
	require.True(t, ok, "leading slash is optional")
	assert.Equal(t, 1.5, v)

	_, ok = tree.Get("/a", 100)
	assert.False(t, ok, "untyped container has no value")

	_, ok = tree.Get("/nope", 100)
	assert.False(t, ok)
}

func TestCreateIsIdempotent(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/a/b", Primitive{Kind: KindInt})
	first := tree.drain()
	tree.Create("/a/b", Primitive{Kind: KindDouble})
	second := tree.drain()

	assert.Len(t, first, 2)
	assert.Empty(t, second)

	ref, ok := tree.Lookup("/a/b")
	require.True(t, ok)
	assert.Equal(t, Primitive{Kind: KindInt}, ref.Type)

	parent, ok := tree.Lookup("/a")
	require.True(t, ok)
	assert.Nil(t, parent.Type)
	assert.Equal(t, []string{"b"}, parent.Children)
}

func TestCreateTypesUntypedContainer(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/a/b", Primitive{Kind: KindInt})
	tree.Create("/a", Primitive{Kind: KindString})

	ref, ok := tree.Lookup("/a")
	require.True(t, ok)
	assert.Equal(t, Primitive{Kind: KindString}, ref.Type)
}

func TestDeletePrunesEmptyAncestors(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/a/b/c", Primitive{Kind: KindInt})
	tree.Create("/x/y", Primitive{Kind: KindInt})
	tree.Create("/x/z", Primitive{Kind: KindInt})

	tree.Delete("/a/b/c")
	_, ok := tree.Lookup("/a")
	assert.False(t, ok)

	tree.Delete("/x/y")
	ref, ok := tree.Lookup("/x")
	require.True(t, ok)
	assert.Equal(t, []string{"z"}, ref.Children)

	tree.Delete("/does/not/exist")
	tree.Delete("")
	_, ok = tree.Lookup("")
	assert.True(t, ok, "root survives")
}

func TestArrayChildren(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/arr", Array{Elem: Primitive{Kind: KindDouble}})
	tree.Update("/arr", []float64{1, 2, 3}, 10)
	tree.Update("/arr", []float64{4}, 20)

	ref, ok := tree.Lookup("/arr")
	require.True(t, ok)
	assert.Equal(t, []string{"0", "1", "2"}, ref.Children)

	v, ok := tree.Get("/arr/0", 20)
	require.True(t, ok)
	assert.Equal(t, 4.0, v)

	v, ok = tree.Get("/arr/2", 10)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = tree.Get("/arr/2", 20)
	assert.False(t, ok, "element beyond a shorter array is empty")

	child, ok := tree.Lookup("/arr/1")
	require.True(t, ok)
	assert.True(t, child.Derived)
	assert.Equal(t, Primitive{Kind: KindDouble}, child.Type)
	assert.Equal(t, 2, child.Samples)
}

func TestChildNamesSortNumerically(t *testing.T) {
	tree := NewTree(Nested, nil)
	tree.Create("/arr", Array{Elem: Primitive{Kind: KindInt}})
	values := make([]int64, 12)
	tree.Update("/arr", values, 1)

	ref, ok := tree.Lookup("/arr")
	require.True(t, ok)
	assert.Equal(t, "2", ref.Children[2])
	assert.Equal(t, "11", ref.Children[11])
}

func TestFlatTree(t *testing.T) {
	tree := NewTree(Flat, nil)
	tree.Create("/a/b", Array{Elem: Primitive{Kind: KindInt}})
	tree.Update("/a/b", []int64{5, 6}, 10)

	root, ok := tree.Lookup("")
	require.True(t, ok)
	assert.Equal(t, []string{"/a/b"}, root.Children)

	ref, ok := tree.Lookup("/a/b")
	require.True(t, ok)
	assert.Equal(t, "/a/b", ref.Path)

	v, ok := tree.Get("/a/b/1", 10)
	require.True(t, ok)
	assert.Equal(t, int64(6), v)

	_, ok = tree.Lookup("/a")
	assert.False(t, ok)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want FieldType
	}{
		{"", nil},
		{"boolean", Primitive{Kind: KindBoolean}},
		{"int64", Primitive{Kind: KindInt}},
		{"double[]", Array{Elem: Primitive{Kind: KindDouble}}},
		{"struct:Pose2d", Struct{Name: "Pose2d"}},
		{"struct:Pose2d[]", Array{Elem: Struct{Name: "Pose2d"}}},
		{"proto:Foo", Primitive{Kind: KindProtobuf}},
		{"mystery", Primitive{Kind: KindRaw}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseType(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.want != nil && tt.in != "int64" && tt.in != "proto:Foo" && tt.in != "mystery" {
				assert.Equal(t, tt.in, TypeString(got))
			}
		})
	}
}
