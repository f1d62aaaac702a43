package buffer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/metric"
)

func TestRing_FIFO(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Write(i))
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{1, 2}, r.ReadBatch(2))
	assert.Equal(t, []int{3}, r.ReadBatch(10))
	assert.Nil(t, r.ReadBatch(10))
	assert.Nil(t, r.ReadBatch(0))
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	r, err := NewRing[int](2, WithDropCallback[int](func(v int) { dropped = append(dropped, v) }))
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, r.Write(i))
	}
	assert.Equal(t, []int{3, 4}, r.ReadBatch(10))
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, int64(2), r.Dropped())
}

func TestRing_DropNewest(t *testing.T) {
	r, err := NewRing[string](1, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	require.NoError(t, r.Write("a"))
	require.NoError(t, r.Write("b"))
	assert.Equal(t, []string{"a"}, r.ReadBatch(10))
	assert.Equal(t, int64(1), r.Dropped())
}

func TestRing_WrapAround(t *testing.T) {
	r, err := NewRing[int](3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Write(i))
		if i%2 == 1 {
			r.ReadBatch(1)
		}
	}
	assert.Equal(t, []int{7, 8, 9}, r.ReadBatch(10))
}

func TestRing_Ready(t *testing.T) {
	r, err := NewRing[int](2)
	require.NoError(t, err)

	select {
	case <-r.Ready():
		t.Fatal("ready before any write")
	default:
	}

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))

	select {
	case <-r.Ready():
	default:
		t.Fatal("expected ready signal")
	}
	assert.Len(t, r.ReadBatch(10), 2)
}

func TestRing_Closed(t *testing.T) {
	r, err := NewRing[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Capacity())

	require.NoError(t, r.Write(1))
	r.Close()
	r.Close()

	err = r.Write(2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, []int{1}, r.ReadBatch(1))
}

func TestRing_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r, err := NewRing[int](2, WithMetrics[int](registry, "test"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Write(i))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(r.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.utilization))

	r.ReadBatch(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.size))

	_, err = NewRing[int](2, WithMetrics[int](registry, "test"))
	assert.Error(t, err, "duplicate registration")

	r.Close()
	_, err = NewRing[int](2, WithMetrics[int](registry, "test"))
	assert.NoError(t, err)
}
