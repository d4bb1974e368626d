package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWindow(t *testing.T) {
	b := New[int](3)

	_, ok := b.Last()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	b.Append(1)
	b.Append(2)
	b.Append(3)
	assert.Equal(t, []int{1, 2, 3}, b.Snapshot())

	// Appending past the limit evicts the oldest item.
	b.Append(4)
	assert.Equal(t, []int{2, 3, 4}, b.Snapshot())
	assert.Equal(t, 3, b.Len())

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 4, last)
}

func TestBufferClear(t *testing.T) {
	b := New[string](2)
	b.Append("a")
	b.Append("b")

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())

	b.Append("c")
	assert.Equal(t, []string{"c"}, b.Snapshot())
}

func TestBufferSnapshotIsCopy(t *testing.T) {
	b := New[int](2)
	b.Append(1)

	snap := b.Snapshot()
	snap[0] = 99

	assert.Equal(t, []int{1}, b.Snapshot())
}

func TestNewPanicsOnBadLimit(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
