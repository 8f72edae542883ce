package refbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBufferHasNoBaseline(t *testing.T) {
	b := New[int](3)
	_, ok := b.Baseline()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 3, b.Cap())
	assert.False(t, b.Full())
}

func TestCapacityFloor(t *testing.T) {
	assert.Equal(t, 1, New[int](0).Cap())
	assert.Equal(t, 1, New[int](-4).Cap())
}

func TestBaselineIsCapacityPushesOld(t *testing.T) {
	const n = 4
	b := New[int](n)

	for step := 0; step < 50; step++ {
		if step >= n {
			got, ok := b.Baseline()
			require.True(t, ok)
			require.Equal(t, step-n, got, "step %d", step)
		}
		b.Push(step)
	}
}

func TestBootstrapReturnsOldestAvailable(t *testing.T) {
	b := New[int](5)
	for step := 0; step < 5; step++ {
		if step > 0 {
			got, ok := b.Baseline()
			require.True(t, ok, "bootstrap step %d must not fail", step)
			assert.Equal(t, 0, got)
		}
		b.Push(step)
	}
	assert.True(t, b.Full())
}

func TestPushReportsEvictions(t *testing.T) {
	b := New[string](2)

	_, ok := b.Push("a")
	assert.False(t, ok)
	_, ok = b.Push("b")
	assert.False(t, ok)

	evicted, ok := b.Push("c")
	assert.True(t, ok)
	assert.Equal(t, "a", evicted)

	evicted, ok = b.Push("d")
	assert.True(t, ok)
	assert.Equal(t, "b", evicted)
}

func TestDrain(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		b := New[int](4)
		b.Push(1)
		b.Push(2)

		var got []int
		b.Drain(func(v int) { got = append(got, v) })

		assert.Equal(t, []int{1, 2}, got)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("wrapped", func(t *testing.T) {
		b := New[int](3)
		for i := 1; i <= 5; i++ {
			b.Push(i)
		}

		var got []int
		b.Drain(func(v int) { got = append(got, v) })

		assert.Equal(t, []int{3, 4, 5}, got)
		_, ok := b.Baseline()
		assert.False(t, ok)
	})
}
