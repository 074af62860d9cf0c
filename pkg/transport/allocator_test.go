package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_RoundRobin(t *testing.T) {
	a := NewAllocator(3)

	for want := uint16(1); want <= 3; want++ {
		id, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	_, err := a.Next()
	assert.ErrorIs(t, err, ErrNoFreeChannel)

	a.Release(2)
	a.Release(1)
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id, "wraps to the first free id after the last one handed out")
	id, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, 3, a.InUse())
}

func TestAllocator_SkipsRecentlyReleased(t *testing.T) {
	a := NewAllocator(10)
	first, _ := a.Next()
	a.Release(first)

	next, err := a.Next()
	require.NoError(t, err)
	assert.NotEqual(t, first, next)
}

func TestAllocator_ZeroMeansProtocolMaximum(t *testing.T) {
	a := NewAllocator(0)
	assert.Equal(t, uint16(65535), a.max)
}
